package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/homemade/vaultsync/store"
	"github.com/homemade/vaultsync/sync"
)

// engine is everything a sync pass needs, built from one Config.
type engine struct {
	cfg          sync.Config
	store        store.Store
	orchestrator *sync.Orchestrator
	registry     *prometheus.Registry
}

func loadConfig(opts *RootOptions) (sync.Config, error) {
	var options []sync.ConfigOption
	if opts.Config != "" {
		options = append(options, sync.ConfigWithFile(opts.Config))
	}
	cfg, err := sync.LoadConfigFromEnvironment(options...)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openStore connects before any upstream query so a bad store aborts early.
func openStore(ctx context.Context, cfg sync.Config) (store.Store, error) {
	timeout := cfg.Store.OperationTimeout
	if timeout <= 0 {
		timeout = sync.StoreOperationTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	st, err := store.Open(ctx, cfg.Store.URI, store.Options{
		Database:         cfg.Store.Database,
		Collection:       cfg.Store.Collection,
		CursorCollection: cfg.Store.CursorCollection,
	})
	if errors.Is(err, store.ErrUnsupportedScheme) {
		return nil, WrapExitError(ExitCommandError, "invalid store uri", err)
	}
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to connect to store", err)
	}
	return st, nil
}

func newEngine(opts *RootOptions, cfg sync.Config, st store.Store) (*engine, error) {
	logger := opts.logger()
	registry := prometheus.NewRegistry()
	metrics := sync.NewMetrics(registry)

	endpoints := sync.NewEndpointRegistry(sync.RegistryWithBlacklistDuration(cfg.Subgraph.BlacklistDuration))
	timeout := cfg.Subgraph.RequestTimeout
	if timeout <= 0 {
		timeout = sync.HTTPRequestTimeout
	}
	client, err := sync.NewFailoverClient(cfg.Subgraph.Endpoints, endpoints,
		sync.ClientWithHTTPClient(&http.Client{Timeout: timeout}),
		sync.ClientWithRecordRequests(cfg.Subgraph.RecordRequests),
		sync.ClientWithLogger(logger),
		sync.ClientWithMetrics(metrics),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create subgraph client", err)
	}

	var pageLogger sync.Logger = sync.DiscardLogger
	if opts.Verbose {
		pageLogger = logger
	}
	paginator := sync.NewPaginator(client,
		sync.PaginatorWithPageSize(cfg.Subgraph.PageSize),
		sync.PaginatorWithDelay(cfg.Subgraph.PageDelay),
		sync.PaginatorWithLogger(pageLogger),
	)

	categories, err := cfg.SelectedCategories()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid categories", err)
	}
	orchestrator, err := sync.NewOrchestrator(paginator, st, sync.OrchestratorOptions{
		Categories:   categories,
		CursorCommit: sync.CursorCommit(cfg.Sync.CursorCommit),
		StoreTimeout: cfg.Store.OperationTimeout,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create orchestrator", err)
	}
	return &engine{cfg: cfg, store: st, orchestrator: orchestrator, registry: registry}, nil
}
