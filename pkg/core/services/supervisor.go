package services

import (
	"log/slog"
	"sync"
)

// Supervisor carries the restart request from the admin API to whoever owns
// the process. It never restarts anything itself.
type Supervisor struct {
	once    sync.Once
	restart chan struct{}
	reason  string
	log     *slog.Logger
}

func NewSupervisor(logger *slog.Logger) *Supervisor {
	return &Supervisor{
		restart: make(chan struct{}),
		log:     logger.With("component", "supervisor"),
	}
}

// RequestRestart signals a restart. Only the first request counts; it reports
// whether this call was the one that fired.
func (s *Supervisor) RequestRestart(reason string) bool {
	fired := false
	s.once.Do(func() {
		s.reason = reason
		s.log.Warn("restart requested", "reason", reason)
		close(s.restart)
		fired = true
	})
	return fired
}

// Restart is closed once a restart has been requested.
func (s *Supervisor) Restart() <-chan struct{} {
	return s.restart
}

// Reason is valid after Restart is closed.
func (s *Supervisor) Reason() string {
	<-s.restart
	return s.reason
}
