package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

const (
	hoursPerWeek      = 168
	postMinimumVisits = 30

	DefaultBucketSeconds = 3600
	DefaultHistoryLimit  = 200
	MaxBuckets           = 10000

	timestampLayout = "2006-01-02 15:04:05"
	rangeLayout     = "2006-01-02 15:04"
)

// ErrTooManyBuckets rejects windows that would allocate more than MaxBuckets.
var ErrTooManyBuckets = errors.New("too many buckets for the requested window")

// ReportEngine computes reports from a record source. Reports are pure
// functions of the records and the window; only the current-week report is
// cached.
type ReportEngine struct {
	source ports.RecordSource
	loc    *time.Location
	now    func() time.Time
	cache  *reportCache
	log    *slog.Logger
}

func NewReportEngine(source ports.RecordSource, loc *time.Location, cacheTTL time.Duration, logger *slog.Logger) *ReportEngine {
	if loc == nil {
		loc = time.Local
	}
	return &ReportEngine{
		source: source,
		loc:    loc,
		now:    time.Now,
		cache:  &reportCache{ttl: cacheTTL},
		log:    logger.With("component", "report_engine"),
	}
}

// WeekStart returns Monday 06:00 of the week containing ref, in the engine's
// location, shifted by offset whole weeks.
func (e *ReportEngine) WeekStart(ref time.Time, offset int) time.Time {
	ref = ref.In(e.loc)
	daysSinceMonday := (int(ref.Weekday()) + 6) % 7
	monday := time.Date(ref.Year(), ref.Month(), ref.Day()-daysSinceMonday, 6, 0, 0, 0, e.loc)
	if ref.Before(monday) {
		// Monday before 06:00 still belongs to the previous week
		monday = monday.AddDate(0, 0, -7)
	}
	return monday.AddDate(0, 0, 7*offset)
}

func (e *ReportEngine) currentWeek(offset int) (time.Time, time.Time) {
	start := e.WeekStart(e.now(), offset)
	return start, start.AddDate(0, 0, 7)
}

// WeekLabel renders the ISO week of the reporting week, e.g. "2025-W7".
func (e *ReportEngine) WeekLabel(weekOffset int) string {
	start, _ := e.currentWeek(weekOffset)
	_, week := start.ISOWeek()
	return fmt.Sprintf("%d-W%d", start.Year(), week)
}

// Generate builds a report over [startTs, endTs) with the given bucket width.
func (e *ReportEngine) Generate(ctx context.Context, startTs, endTs, bucketSeconds int64) (*domain.Report, error) {
	if bucketSeconds > 0 && endTs > startTs {
		// A negative span means end-start wrapped past the int64 range.
		if span := endTs - startTs; span < 0 || span/bucketSeconds > MaxBuckets {
			return nil, ErrTooManyBuckets
		}
	}
	all, err := e.source.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	window := filterWindow(all, startTs, endTs)
	labels, values := e.buildTimeSeries(window, startTs, endTs, bucketSeconds)

	return &domain.Report{
		GeneratedAt: e.now().In(e.loc).Format(timestampLayout),
		TimeRange: domain.TimeRange{
			Start:         time.Unix(startTs, 0).In(e.loc).Format(rangeLayout),
			End:           time.Unix(endTs, 0).In(e.loc).Format(rangeLayout),
			BucketSeconds: bucketSeconds,
		},
		Summary: summarize(all, window, startTs),
		Series:  domain.Series{Labels: labels, Values: values},
	}, nil
}

// GenerateWeekly builds the hourly report for a week, offset from the current
// one, with the per-post breakdown.
func (e *ReportEngine) GenerateWeekly(ctx context.Context, weekOffset int) (*domain.WeeklyReport, error) {
	all, err := e.source.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	start, end := e.currentWeek(weekOffset)
	startTs, endTs := start.Unix(), end.Unix()
	window := filterWindow(all, startTs, endTs)

	labels := make([]string, hoursPerWeek)
	for i := range labels {
		labels[i] = start.Add(time.Duration(i) * time.Hour).Format("Mon 15")
	}
	_, values := e.buildTimeSeries(window, startTs, startTs+hoursPerWeek*3600, 3600)

	return &domain.WeeklyReport{
		GeneratedAt: e.now().In(e.loc).Format(timestampLayout),
		Week:        e.WeekLabel(weekOffset),
		Summary:     summarize(all, window, startTs),
		Hourly: domain.HourlySeries{
			Start:  start.Format(rangeLayout),
			Labels: labels,
			Values: values,
		},
		Posts: postBreakdown(window, startTs),
	}, nil
}

// Cached returns the current-week hourly report, recomputing it once the TTL
// has lapsed.
func (e *ReportEngine) Cached(ctx context.Context) (*domain.Report, error) {
	now := e.now()
	if report, ok := e.cache.get(now); ok {
		return report, nil
	}

	e.log.Info("refreshing current week report")
	start, end := e.currentWeek(0)
	report, err := e.Generate(ctx, start.Unix(), end.Unix(), DefaultBucketSeconds)
	if err != nil {
		return nil, err
	}
	e.cache.set(report, now)
	return report, nil
}

// TopVisitors ranks this week's visitors by visit count.
func (e *ReportEngine) TopVisitors(ctx context.Context, n int) ([]domain.TopVisitor, error) {
	all, err := e.source.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	start, end := e.currentWeek(0)
	window := filterWindow(all, start.Unix(), end.Unix())
	domain.SortNewestFirst(window)

	counts := make(map[int64]*domain.TopVisitor)
	// walk oldest to newest so the latest name wins
	for i := len(window) - 1; i >= 0; i-- {
		r := window[i]
		if r.VisitorID == 0 {
			continue
		}
		tv, ok := counts[r.VisitorID]
		if !ok {
			tv = &domain.TopVisitor{VisitorID: r.VisitorID}
			counts[r.VisitorID] = tv
		}
		tv.Visits++
		if r.DisplayName != "" {
			tv.Name = r.DisplayName
		}
	}

	top := make([]domain.TopVisitor, 0, len(counts))
	for _, tv := range counts {
		if tv.Name == "" {
			tv.Name = "unknown"
		}
		top = append(top, *tv)
	}
	slices.SortFunc(top, func(a, b domain.TopVisitor) int {
		if c := cmp.Compare(b.Visits, a.Visits); c != 0 {
			return c
		}
		return cmp.Compare(a.VisitorID, b.VisitorID)
	})
	if n > 0 && len(top) > n {
		top = top[:n]
	}
	return top, nil
}

// UniqueTotal counts distinct visitors across all records.
func (e *ReportEngine) UniqueTotal(ctx context.Context) (int, error) {
	all, err := e.source.Records(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading records: %w", err)
	}
	return len(visitorSet(all)), nil
}

// VisitorHistory lists one visitor's records, newest first.
func (e *ReportEngine) VisitorHistory(ctx context.Context, visitorID int64, limit int) ([]domain.VisitorHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	all, err := e.source.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	var matched []domain.VisitorRecord
	for _, r := range all {
		if r.VisitorID == visitorID {
			matched = append(matched, r)
		}
	}
	domain.SortNewestFirst(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	entries := make([]domain.VisitorHistoryEntry, len(matched))
	for i, r := range matched {
		human := "-"
		if r.Timestamp != 0 {
			human = r.Time(e.loc).Format(timestampLayout)
		}
		entries[i] = domain.VisitorHistoryEntry{VisitorRecord: r, TimeHuman: human}
	}
	return entries, nil
}

// buildTimeSeries counts records into floor((end-start)/bucket) buckets over
// the half-open interval [start, end).
func (e *ReportEngine) buildTimeSeries(records []domain.VisitorRecord, startTs, endTs, bucketSeconds int64) ([]string, []int) {
	span := endTs - startTs
	if endTs <= startTs || span <= 0 || bucketSeconds <= 0 {
		return []string{}, []int{}
	}

	total := span / bucketSeconds
	if total <= 0 {
		return []string{}, []int{}
	}
	labels := make([]string, total)
	values := make([]int, total)

	layout := "15:04"
	if bucketSeconds >= 3600 {
		layout = "01-02 15:04"
	}
	for i := range labels {
		labels[i] = time.Unix(startTs+int64(i)*bucketSeconds, 0).In(e.loc).Format(layout)
	}

	for _, r := range records {
		if r.Timestamp == 0 {
			continue
		}
		idx := floorDiv(r.Timestamp-startTs, bucketSeconds)
		if idx >= 0 && idx < total {
			values[idx]++
		}
	}
	return labels, values
}

func filterWindow(records []domain.VisitorRecord, startTs, endTs int64) []domain.VisitorRecord {
	var out []domain.VisitorRecord
	for _, r := range records {
		if r.Timestamp >= startTs && r.Timestamp < endTs {
			out = append(out, r)
		}
	}
	return out
}

func summarize(all, window []domain.VisitorRecord, startTs int64) domain.Summary {
	inWindow := visitorSet(window)

	seenBefore := make(map[int64]struct{})
	for _, r := range all {
		if r.Timestamp < startTs && r.VisitorID != 0 {
			seenBefore[r.VisitorID] = struct{}{}
		}
	}

	newVisitors := 0
	for id := range inWindow {
		if _, ok := seenBefore[id]; !ok {
			newVisitors++
		}
	}

	return domain.Summary{
		TotalVisits:    len(window),
		UniqueVisitors: len(inWindow),
		NewVisitors:    newVisitors,
	}
}

func postBreakdown(window []domain.VisitorRecord, startTs int64) []domain.PostSeries {
	series := make(map[string][]int)
	for _, r := range window {
		if r.PostID == "" || r.Timestamp == 0 {
			continue
		}
		idx := floorDiv(r.Timestamp-startTs, 3600)
		if idx < 0 || idx >= hoursPerWeek {
			continue
		}
		s, ok := series[r.PostID]
		if !ok {
			s = make([]int, hoursPerWeek)
			series[r.PostID] = s
		}
		s[idx]++
	}

	posts := make([]domain.PostSeries, 0, len(series))
	for id, s := range series {
		total := 0
		for _, v := range s {
			total += v
		}
		if total < postMinimumVisits {
			continue
		}
		posts = append(posts, domain.PostSeries{PostID: id, Total: total, Series: s})
	}
	slices.SortFunc(posts, func(a, b domain.PostSeries) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.PostID, b.PostID)
	})
	return posts
}

func visitorSet(records []domain.VisitorRecord) map[int64]struct{} {
	set := make(map[int64]struct{})
	for _, r := range records {
		if r.VisitorID != 0 {
			set[r.VisitorID] = struct{}{}
		}
	}
	return set
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// reportCache memoizes one report for a TTL. Concurrent callers that find it
// expired may each recompute; the last one to finish wins.
type reportCache struct {
	mu      sync.Mutex
	value   *domain.Report
	created time.Time
	ttl     time.Duration
}

func (c *reportCache) get(now time.Time) (*domain.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil || now.Sub(c.created) >= c.ttl {
		return nil, false
	}
	return c.value, true
}

func (c *reportCache) set(report *domain.Report, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = report
	c.created = now
}

var _ ports.ReportService = (*ReportEngine)(nil)
