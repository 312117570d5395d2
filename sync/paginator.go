package sync

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultPageSize  = 100
	DefaultPageDelay = 200 * time.Millisecond
)

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Page is one window of upstream records.
type Page struct {
	Events   []RawEvent
	Endpoint string
}

// Drain is the result of paginating a category to its end.
type Drain struct {
	Events    []RawEvent
	Endpoints []string // distinct endpoints that served the pages, in first-use order
	Requests  int
}

// Paginator pages through one category at a time.
type Paginator struct {
	client   Querier
	pageSize int
	delay    time.Duration
	sleep    Sleeper
	logger   Logger
}

type PaginatorOption func(*Paginator)

func PaginatorWithPageSize(n int) PaginatorOption {
	return func(p *Paginator) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// PaginatorWithDelay sets the pause between consecutive page requests.
func PaginatorWithDelay(d time.Duration) PaginatorOption {
	return func(p *Paginator) {
		if d >= 0 {
			p.delay = d
		}
	}
}

func PaginatorWithSleeper(s Sleeper) PaginatorOption {
	return func(p *Paginator) {
		if s != nil {
			p.sleep = s
		}
	}
}

func PaginatorWithLogger(l Logger) PaginatorOption {
	return func(p *Paginator) {
		p.logger = l
	}
}

func NewPaginator(client Querier, opts ...PaginatorOption) *Paginator {
	p := &Paginator{
		client:   client,
		pageSize: DefaultPageSize,
		delay:    DefaultPageDelay,
		sleep:    SleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = loggerOrDefault(p.logger)
	return p
}

// FetchPage requests records of category ordered by ascending blockTimestamp.
// since, when set, restricts the page to records strictly newer than it.
func (p *Paginator) FetchPage(ctx context.Context, category CategoryDescriptor, offset, pageSize int, since *Watermark) (Page, error) {
	q := PageQuery{
		Category:  category.Key,
		Fields:    category.Fields,
		First:     pageSize,
		Skip:      offset,
		Direction: OrderAscending,
		Since:     since,
	}
	return p.run(ctx, category, q)
}

// DrainAll pages through every record of category newer than since (all records
// when since is nil). Pages are not de-duplicated; the store's unique id absorbs overlap.
func (p *Paginator) DrainAll(ctx context.Context, category CategoryDescriptor, since *Watermark) (Drain, error) {
	var result Drain
	seen := make(map[string]bool)
	for offset := 0; ; offset += p.pageSize {
		if result.Requests > 0 {
			if err := p.sleep(ctx, p.delay); err != nil {
				return result, err
			}
		}
		page, err := p.FetchPage(ctx, category, offset, p.pageSize, since)
		if err != nil {
			return result, err
		}
		result.Requests++
		p.logger.Printf("Fetched %d %s (skip %d) from %s", len(page.Events), category.Key, offset, page.Endpoint)
		if !seen[page.Endpoint] {
			seen[page.Endpoint] = true
			result.Endpoints = append(result.Endpoints, page.Endpoint)
		}
		result.Events = append(result.Events, page.Events...)
		// a short page is the last one
		if len(page.Events) < p.pageSize {
			return result, nil
		}
	}
}

// FetchLatest returns the newest record of category, or nil if there is none.
func (p *Paginator) FetchLatest(ctx context.Context, category CategoryDescriptor) (*RawEvent, string, error) {
	q := PageQuery{
		Category:  category.Key,
		Fields:    category.Fields,
		First:     1,
		Direction: OrderDescending,
	}
	page, err := p.run(ctx, category, q)
	if err != nil {
		return nil, page.Endpoint, err
	}
	if len(page.Events) == 0 {
		return nil, page.Endpoint, nil
	}
	return &page.Events[0], page.Endpoint, nil
}

func (p *Paginator) run(ctx context.Context, category CategoryDescriptor, q PageQuery) (Page, error) {
	response, err := p.client.Execute(ctx, q.String())
	if err != nil {
		return Page{}, err
	}
	events, err := DecodeEvents(category, response.Data.Get(category.Key))
	if err != nil {
		return Page{Endpoint: response.Endpoint}, fmt.Errorf("from %s: %w", response.Endpoint, err)
	}
	return Page{Events: events, Endpoint: response.Endpoint}, nil
}
