package domain

// Report is a time-bucketed view of the visits in [start, end).
type Report struct {
	GeneratedAt string    `json:"generated_at"`
	TimeRange   TimeRange `json:"time_range"`
	Summary     Summary   `json:"summary"`
	Series      Series    `json:"series"`
}

type TimeRange struct {
	Start         string `json:"start"`
	End           string `json:"end"`
	BucketSeconds int64  `json:"bucket_seconds"`
}

type Summary struct {
	TotalVisits    int `json:"total_visits"`
	UniqueVisitors int `json:"unique_visitors"`
	// NewVisitors counts visitors in the window never seen before it.
	NewVisitors int `json:"new_visitors"`
}

type Series struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// WeeklyReport covers one Monday-06:00 week in hourly buckets, with a
// breakdown for posts that drew enough visits.
type WeeklyReport struct {
	GeneratedAt string       `json:"generated_at"`
	Week        string       `json:"week"`
	Summary     Summary      `json:"summary"`
	Hourly      HourlySeries `json:"hourly_168"`
	Posts       []PostSeries `json:"posts"`
}

type HourlySeries struct {
	Start  string   `json:"start"`
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

type PostSeries struct {
	PostID string `json:"post_id"`
	Total  int    `json:"total"`
	Series []int  `json:"series"`
}

// TopVisitor is an entry of the weekly leaderboard.
type TopVisitor struct {
	VisitorID int64  `json:"uin"`
	Name      string `json:"name"`
	Visits    int    `json:"visits"`
}

// VisitorHistoryEntry is a stored record plus its formatted local time.
type VisitorHistoryEntry struct {
	VisitorRecord
	TimeHuman string `json:"time_human"`
}
