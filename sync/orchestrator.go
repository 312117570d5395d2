package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CursorCommit decides when advanced cursors are written.
type CursorCommit string

const (
	// CursorCommitImmediate writes a category's cursor as soon as its records are queued.
	// A pass that aborts later leaves those cursors advanced over unstored records.
	CursorCommitImmediate CursorCommit = "immediate"
	// CursorCommitAfterFlush writes cursors only once the bulk insert succeeded. Default.
	CursorCommitAfterFlush CursorCommit = "after-flush"
)

func ParseCursorCommit(s string) (CursorCommit, error) {
	switch CursorCommit(strings.ToLower(strings.TrimSpace(s))) {
	case "", CursorCommitAfterFlush:
		return CursorCommitAfterFlush, nil
	case CursorCommitImmediate:
		return CursorCommitImmediate, nil
	}
	return "", fmt.Errorf("unknown cursor commit policy %q (want %q or %q)", s, CursorCommitImmediate, CursorCommitAfterFlush)
}

// EventFetcher is the subset of *Paginator the orchestrator needs.
type EventFetcher interface {
	FetchLatest(ctx context.Context, category CategoryDescriptor) (*RawEvent, string, error)
	DrainAll(ctx context.Context, category CategoryDescriptor, since *Watermark) (Drain, error)
}

type OrchestratorOptions struct {
	Categories   []CategoryDescriptor // defaults to every category
	CursorCommit CursorCommit
	StoreTimeout time.Duration // bound on each store call, defaults to StoreOperationTimeout
	Logger       Logger
	Metrics      *Metrics
	RunID        func() string
	Now          func() time.Time
}

// Orchestrator runs sync passes over the configured categories.
type Orchestrator struct {
	fetcher EventFetcher
	store   EventStore
	opts    OrchestratorOptions
}

type cursorUpdate struct {
	category  string
	watermark Watermark
}

func NewOrchestrator(fetcher EventFetcher, store EventStore, opts OrchestratorOptions) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, errors.New("orchestrator requires an event fetcher")
	}
	if store == nil {
		return nil, errors.New("orchestrator requires an event store")
	}
	if len(opts.Categories) == 0 {
		opts.Categories = Categories()
	}
	commit, err := ParseCursorCommit(string(opts.CursorCommit))
	if err != nil {
		return nil, err
	}
	opts.CursorCommit = commit
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = StoreOperationTimeout
	}
	opts.Logger = loggerOrDefault(opts.Logger)
	if opts.RunID == nil {
		opts.RunID = func() string { return uuid.NewString() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{fetcher: fetcher, store: store, opts: opts}, nil
}

// RunOnce performs one pass over every category: check the latest record, drain
// newer records, then a single bulk insert of everything gathered. Any fetch error aborts the
// pass before the insert.
func (o *Orchestrator) RunOnce(ctx context.Context) (Report, error) {
	log := o.opts.Logger
	report := Report{
		RunID:        o.opts.RunID(),
		StartedAt:    o.opts.Now(),
		CursorCommit: o.opts.CursorCommit,
	}
	finish := func(err error) (Report, error) {
		report.FinishedAt = o.opts.Now()
		o.opts.Metrics.observeRun(report.StartedAt, report.FinishedAt, err)
		return report, err
	}

	var batch []StoredEvent
	var pending []cursorUpdate
	for _, category := range o.opts.Categories {
		outcome, events, update, err := o.syncCategory(ctx, category, report.RunID)
		if err != nil {
			log.Printf("Sync of %s failed: %v", category.Key, err)
			return finish(fmt.Errorf("sync %s: %w", category.Key, err))
		}
		report.Categories = append(report.Categories, outcome)
		batch = append(batch, events...)
		if update != nil {
			pending = append(pending, *update)
		}
	}

	if len(batch) == 0 {
		log.Printf("No new events to insert")
	} else {
		ctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
		result, err := o.store.InsertEvents(ctx, batch)
		cancel()
		report.Insert = result
		o.opts.Metrics.observeInsert(result)
		if err != nil {
			if o.opts.CursorCommit == CursorCommitAfterFlush {
				log.Printf("Insert failed, %d cursor update(s) not committed", len(pending))
			}
			return finish(fmt.Errorf("insert events: %w", err))
		}
		log.Printf("All new events have been successfully inserted (%d new, %d already synced)", result.Inserted, result.Duplicates)
	}

	if o.opts.CursorCommit == CursorCommitAfterFlush {
		for _, u := range pending {
			if err := o.setCursor(ctx, u.category, u.watermark, report.RunID); err != nil {
				return finish(err)
			}
		}
	}

	o.logSummary(report)
	return finish(nil)
}

func (o *Orchestrator) syncCategory(ctx context.Context, category CategoryDescriptor, runID string) (CategoryOutcome, []StoredEvent, *cursorUpdate, error) {
	log := o.opts.Logger
	outcome := CategoryOutcome{Category: category.Key, Type: category.Type}

	cursor, found, err := o.getCursor(ctx, category.Key)
	if err != nil {
		return outcome, nil, nil, err
	}
	if found {
		outcome.OldWatermark = cursor
		outcome.NewWatermark = cursor
	}

	latest, endpoint, err := o.fetcher.FetchLatest(ctx, category)
	if err != nil {
		return outcome, nil, nil, fmt.Errorf("fetch latest: %w", err)
	}
	outcome.Endpoints = appendEndpoint(outcome.Endpoints, endpoint)
	outcome.Requests++
	if latest == nil {
		outcome.Status = StatusEmpty
		log.Printf("No %s found upstream", category.Key)
		return outcome, nil, nil, nil
	}
	if found && !latest.Watermark().After(cursor) {
		outcome.Status = StatusUpToDate
		log.Printf("%s is up to date (blockTimestamp %s)", category.Key, cursor)
		return outcome, nil, nil, nil
	}

	var since *Watermark
	if found {
		since = &cursor
		log.Printf("Fetching %s newer than %s", category.Key, cursor)
	} else {
		log.Printf("No cursor for %s, fetching all events", category.Key)
	}
	drain, err := o.fetcher.DrainAll(ctx, category, since)
	if err != nil {
		return outcome, nil, nil, fmt.Errorf("drain: %w", err)
	}
	for _, e := range drain.Endpoints {
		outcome.Endpoints = appendEndpoint(outcome.Endpoints, e)
	}
	outcome.Requests += drain.Requests
	o.opts.Metrics.observeFetched(category.Key, len(drain.Events))
	if len(drain.Events) == 0 {
		outcome.Status = StatusNoNewEvent
		log.Printf("No new %s returned", category.Key)
		return outcome, nil, nil, nil
	}

	docs := make([]StoredEvent, 0, len(drain.Events))
	for _, e := range drain.Events {
		doc, err := e.Tagged(category.Type)
		if err != nil {
			return outcome, nil, nil, err
		}
		docs = append(docs, doc)
	}
	outcome.Status = StatusSynced
	outcome.Added = len(docs)

	var update *cursorUpdate
	if newest := MaxWatermark(drain.Events); !found || newest.After(cursor) {
		outcome.NewWatermark = newest
		update = &cursorUpdate{category: category.Key, watermark: newest}
		if o.opts.CursorCommit == CursorCommitImmediate {
			if err := o.setCursor(ctx, category.Key, newest, runID); err != nil {
				return outcome, nil, nil, err
			}
			update = nil
		}
	}
	log.Printf("Queued %d %s for insert", len(docs), category.Key)
	return outcome, docs, update, nil
}

func (o *Orchestrator) getCursor(ctx context.Context, category string) (Watermark, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
	defer cancel()
	w, found, err := o.store.GetCursor(ctx, category)
	if err != nil {
		return "", false, fmt.Errorf("read cursor: %w", err)
	}
	return w, found, nil
}

func (o *Orchestrator) setCursor(ctx context.Context, category string, w Watermark, runID string) error {
	ctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
	defer cancel()
	if err := o.store.SetCursor(ctx, category, w, runID); err != nil {
		return fmt.Errorf("update cursor for %s: %w", category, err)
	}
	o.opts.Metrics.observeCursor(category, w)
	return nil
}

func (o *Orchestrator) logSummary(report Report) {
	log := o.opts.Logger
	log.Printf("Sync summary (run %s):", report.RunID)
	for _, c := range report.Categories {
		log.Printf("  %-28s endpoint=%s added=%d blockTimestamp %s -> %s",
			c.Category, strings.Join(c.Endpoints, ","), c.Added, displayWatermark(c.OldWatermark), displayWatermark(c.NewWatermark))
	}
	log.Printf("Total new events: %d", report.Queued())
}

func displayWatermark(w Watermark) string {
	if w == "" {
		return "-"
	}
	return string(w)
}

func appendEndpoint(endpoints []string, endpoint string) []string {
	if endpoint == "" {
		return endpoints
	}
	for _, e := range endpoints {
		if e == endpoint {
			return endpoints
		}
	}
	return append(endpoints, endpoint)
}
