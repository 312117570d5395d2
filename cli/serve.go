package cli

import (
	"context"
	"errors"
	"net/http"
	gosync "sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/homemade/vaultsync/sync"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Interval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run sync passes periodically behind an HTTP endpoint",
		Long: `Run a sync pass every --interval and expose:

  GET  /healthz  liveness plus the outcome of the last pass
  GET  /metrics  Prometheus metrics
  POST /sync     start a pass now (409 if one is already running)

Passes never overlap inside one process. The endpoint blacklist is kept for
the lifetime of the process.

Example:
  vaultsync serve --addr :9090 --interval 10m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default serve.addr)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between passes, 0 disables the schedule (default serve.interval)")
	return cmd
}

var (
	// ErrSyncRunning is returned when a pass is requested while another is in flight.
	ErrSyncRunning = errors.New("sync already running")
	// ErrServeStopped is returned when a pass is requested during shutdown.
	ErrServeStopped = errors.New("server is shutting down")
)

// singleFlight runs at most one pass at a time and remembers the last outcome.
type singleFlight struct {
	run func(ctx context.Context) (sync.Report, error)

	mu      gosync.Mutex
	wg      gosync.WaitGroup
	running bool
	stopped bool
	last    *sync.Report
	lastErr error
}

func (s *singleFlight) Do(ctx context.Context) (sync.Report, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return sync.Report{}, ErrServeStopped
	}
	if s.running {
		s.mu.Unlock()
		return sync.Report{}, ErrSyncRunning
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	report, err := s.run(ctx)

	s.mu.Lock()
	s.running = false
	s.last = &report
	s.lastErr = err
	s.mu.Unlock()
	return report, err
}

// Wait refuses new passes and blocks until the running one has returned.
func (s *singleFlight) Wait() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}

type serveStatus struct {
	Running   bool         `json:"running"`
	LastRun   *sync.Report `json:"lastRun,omitempty"`
	LastError string       `json:"lastError,omitempty"`
}

func (s *singleFlight) Status() serveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := serveStatus{Running: s.running, LastRun: s.last}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Serve.Addr = opts.Addr
	}
	if opts.Interval > 0 {
		cfg.Serve.Interval = opts.Interval
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close(context.WithoutCancel(ctx))

	eng, err := newEngine(opts.RootOptions, cfg, st)
	if err != nil {
		return err
	}
	logger := opts.logger()
	flight := &singleFlight{run: eng.orchestrator.RunOnce}
	// passes still use the store, so wait for them before it is closed
	defer flight.Wait()

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           newRouter(eng, flight),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("Listening on %s", cfg.Serve.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var tick <-chan time.Time
	if cfg.Serve.Interval > 0 {
		ticker := time.NewTicker(cfg.Serve.Interval)
		defer ticker.Stop()
		tick = ticker.C
		go scheduledPass(ctx, flight, logger)
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err, ok := <-serveErr:
			if ok && err != nil {
				return WrapExitError(ExitFailure, "http server failed", err)
			}
			return nil
		case <-tick:
			go scheduledPass(ctx, flight, logger)
		}
	}
}

func scheduledPass(ctx context.Context, flight *singleFlight, logger sync.Logger) {
	if _, err := flight.Do(ctx); err != nil {
		if errors.Is(err, ErrSyncRunning) {
			logger.Printf("Skipping scheduled pass, previous pass still running")
			return
		}
		if errors.Is(err, ErrServeStopped) {
			return
		}
		logger.Printf("Scheduled pass failed: %v", err)
	}
}

func newRouter(eng *engine, flight *singleFlight) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		status := flight.Status()
		if err := eng.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store_unreachable", "error": err.Error(), "sync": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sync": status})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(eng.registry, promhttp.HandlerOpts{})))

	r.POST("/sync", func(c *gin.Context) {
		report, err := flight.Do(c.Request.Context())
		if errors.Is(err, ErrSyncRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, ErrServeStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	return r
}
