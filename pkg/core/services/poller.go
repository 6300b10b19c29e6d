package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

// CycleState is a step of one poll cycle.
type CycleState int

const (
	StateFetch CycleState = iota
	StateRefreshAndRetry
	StateGiveUp
	StateDone
)

func (s CycleState) String() string {
	switch s {
	case StateFetch:
		return "fetch"
	case StateRefreshAndRetry:
		return "refresh_and_retry"
	case StateGiveUp:
		return "give_up"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("CycleState(%d)", int(s))
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	CycleID   string
	Fetched   int
	Added     int
	Refreshed bool
	// State is StateDone on success, StateGiveUp otherwise.
	State CycleState
	// PersistErr is set when a sink write failed; the cycle still counts as done.
	PersistErr error
}

// Poller runs fetch, dedup and persist for one cycle at a time. It performs at
// most one credential refresh per cycle.
type Poller struct {
	credentials ports.CredentialStore
	broker      ports.CredentialBroker
	fetcher     ports.VisitorFetcher
	store       ports.RecordStore
	log         *slog.Logger
}

func NewPoller(credentials ports.CredentialStore, broker ports.CredentialBroker, fetcher ports.VisitorFetcher, store ports.RecordStore, logger *slog.Logger) *Poller {
	return &Poller{
		credentials: credentials,
		broker:      broker,
		fetcher:     fetcher,
		store:       store,
		log:         logger.With("component", "poller"),
	}
}

// RunCycle executes one cycle. The returned error explains a StateGiveUp
// result; persistence failures are reported in CycleResult only.
func (p *Poller) RunCycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{CycleID: ulid.Make().String(), State: StateFetch}
	log := p.log.With("cycle_id", res.CycleID)

	cred, err := p.credentials.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoCredential) {
			log.Info("no stored credential, refreshing")
		} else {
			log.Warn("stored credential unreadable, refreshing", "error", err)
		}
		res.Refreshed = true
		cred, err = p.broker.Refresh(ctx)
	}
	if err != nil {
		res.State = StateGiveUp
		log.Error("credential unavailable, skipping cycle", "error", err)
		return res, err
	}

	var (
		records  []domain.VisitorRecord
		fetchErr error
	)
	for res.State != StateDone && res.State != StateGiveUp {
		switch res.State {
		case StateFetch:
			records, fetchErr = p.fetcher.Fetch(ctx, cred)
			switch {
			case fetchErr == nil:
				res.State = StateDone
			case domain.IsCredentialFailure(fetchErr) && !res.Refreshed:
				log.Warn("visitor api rejected credential, refreshing", "error", fetchErr)
				res.State = StateRefreshAndRetry
			default:
				res.State = StateGiveUp
			}

		case StateRefreshAndRetry:
			res.Refreshed = true
			cred, err = p.broker.Refresh(ctx)
			if err != nil {
				fetchErr = err
				res.State = StateGiveUp
				continue
			}
			res.State = StateFetch
		}
	}

	if res.State == StateGiveUp {
		if domain.IsTransient(fetchErr) {
			log.Error("visitor request failed, waiting for next cycle", "error", fetchErr)
		} else {
			log.Error("cycle gave up", "error", fetchErr, "refreshed", res.Refreshed)
		}
		return res, fetchErr
	}

	res.Fetched = len(records)
	added, err := p.store.Merge(ctx, records)
	res.Added = len(added)
	if err != nil {
		res.PersistErr = err
		log.Error("persisting visitors failed", "error", err)
	}
	if res.Added > 0 {
		log.Info("new visitors recorded", "added", res.Added, "fetched", res.Fetched)
	} else {
		log.Debug("no new visitors", "fetched", res.Fetched)
	}
	return res, nil
}

// Scheduler drives a Poller sequentially: a cycle starts only after the
// previous one returned and the interval has elapsed.
type Scheduler struct {
	poller   *Poller
	interval time.Duration
	log      *slog.Logger
}

func NewScheduler(poller *Poller, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		poller:   poller,
		interval: interval,
		log:      logger.With("component", "scheduler"),
	}
}

// Run polls until ctx is cancelled. Cancellation is only observed between
// cycles; a running cycle uses a context detached from ctx so it completes.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("polling started", "interval", s.interval)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("polling stopped")
			return
		case <-timer.C:
		}

		s.runOnce(context.WithoutCancel(ctx))
		timer.Reset(s.interval)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("unexpected failure in poll cycle", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	_, _ = s.poller.RunCycle(ctx)
}
