package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/adapters/handler"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/adapters/qzone"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/adapters/repository/jsonfile"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/config"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/services"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/logging"
)

// exitRestart tells the process supervisor to launch the service again.
const exitRestart = 75

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()
	os.Exit(run(*configPath))
}

func run(configPath string) int {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		configPath = ""
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 1
	}

	logger := logging.New(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, originEndpoints{})
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer a.Close()

	return a.serve(ctx, cfg.Addr())
}

// originEndpoints overrides the origin URLs; zero values mean production.
type originEndpoints struct {
	LoginPageURL  string
	LocalAgentURL string
	JumpURL       string
	VisitorURL    string
}

type app struct {
	cfg        *config.Config
	log        *slog.Logger
	journal    *sqlite.JournalRepository
	store      *services.RecordStore
	poller     *services.Poller
	scheduler  *services.Scheduler
	limiter    *services.RateLimiter
	supervisor *services.Supervisor
	handler    http.Handler
	closers    []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, ep originEndpoints) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	accessLog, accessFile, err := logging.OpenAccessLog(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, accessFile)

	// Initialize Repositories
	journal, err := sqlite.NewJournalRepository(cfg.JournalURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	a.journal = journal
	a.closers = append(a.closers, journal)

	snapshot := jsonfile.NewSnapshotFile(cfg.DBFile)
	credentials := jsonfile.NewCredentialFile(cfg.CookieFile)

	a.store = services.NewRecordStore(journal, snapshot, logger)
	if err := a.store.Recover(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("recovering records: %w", err)
	}

	// Origin adapters
	broker := qzone.NewBroker(qzone.BrokerConfig{
		UIN:           cfg.Visitor.UIN,
		LoginPageURL:  ep.LoginPageURL,
		LocalAgentURL: ep.LocalAgentURL,
		JumpURL:       ep.JumpURL,
	}, credentials, logger)
	client := qzone.NewClient(qzone.ClientConfig{
		UIN:        cfg.Visitor.UIN,
		VisitorURL: ep.VisitorURL,
	}, logger)

	// Initialize Services
	a.poller = services.NewPoller(credentials, broker, client, a.store, logger)
	a.scheduler = services.NewScheduler(a.poller, cfg.Visitor.Interval, logger)
	a.limiter = services.NewRateLimiter(cfg.QoS.Limit, cfg.QoS.Window)
	a.supervisor = services.NewSupervisor(logger)
	reports := services.NewReportEngine(a.store, loc, cfg.Server.RefreshInterval, logger)

	// Initialize Router
	a.handler = handler.NewRouter(cfg, reports, a.limiter, a.supervisor, accessLog, logger)

	return a, nil
}

// serve runs the poller, the limiter sweeper and the HTTP server until a
// signal or a restart request arrives, and returns the process exit code.
func (a *app) serve(ctx context.Context, addr string) int {
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		a.scheduler.Run(workCtx)
	}()
	if a.cfg.QoS.SweepInterval > 0 {
		go a.limiter.Run(workCtx, a.cfg.QoS.SweepInterval, a.log)
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      a.handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	code := 0
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case <-a.supervisor.Restart():
		a.log.Warn("restarting", "reason", a.supervisor.Reason())
		code = exitRestart
	case err := <-serverErr:
		a.log.Error("server failed", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server shutdown", "error", err)
	}

	cancelWork()
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		a.log.Warn("poll cycle still running at shutdown")
	}
	return code
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
