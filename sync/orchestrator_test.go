package sync

import (
	"context"
	"errors"
	"net/http"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeEventStore keeps documents by id and cursors by category.
type fakeEventStore struct {
	mu        gosync.Mutex
	docs      map[string]StoredEvent
	cursors   map[string]Watermark
	inserts   int
	insertErr error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{docs: make(map[string]StoredEvent), cursors: make(map[string]Watermark)}
}

func (s *fakeEventStore) InsertEvents(ctx context.Context, events []StoredEvent) (InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	result := InsertResult{Attempted: len(events)}
	if s.insertErr != nil {
		return result, s.insertErr
	}
	for _, e := range events {
		if _, ok := s.docs[e.ID]; ok {
			result.Duplicates++
			continue
		}
		s.docs[e.ID] = e
		result.Inserted++
	}
	return result, nil
}

func (s *fakeEventStore) GetCursor(ctx context.Context, category string) (Watermark, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.cursors[category]
	return w, ok, nil
}

func (s *fakeEventStore) SetCursor(ctx context.Context, category string, w Watermark, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[category] = w
	return nil
}

func (s *fakeEventStore) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.docs {
		if d.Type == eventType {
			n++
		}
	}
	return n
}

func newTestOrchestrator(t *testing.T, client *FailoverClient, store EventStore, opts OrchestratorOptions) *Orchestrator {
	t.Helper()
	p := NewPaginator(client, PaginatorWithDelay(0), PaginatorWithLogger(DiscardLogger))
	opts.Logger = DiscardLogger
	opts.RunID = func() string { return "run-1" }
	o, err := NewOrchestrator(p, store, opts)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_FirstRunDrainsEverything(t *testing.T) {
	fake := newFakeSubgraph()
	fake.add(mustCategory(t, "depositEvents"), timestamps(1000, 250)...)
	fake.add(mustCategory(t, "withdrawEvents"), "1500", "1400")
	client, endpoints := newTestClient(t, newTestClock(), fake)
	store := newFakeEventStore()
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{})

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 252, report.Queued())
	assert.Equal(t, InsertResult{Attempted: 252, Inserted: 252}, report.Insert)
	assert.Equal(t, 1, store.inserts, "one bulk insert per pass")
	assert.Equal(t, 250, store.count("deposit"))
	assert.Equal(t, 2, store.count("withdraw"))
	assert.Equal(t, Watermark("1249"), store.cursors["depositEvents"])
	assert.Equal(t, Watermark("1500"), store.cursors["withdrawEvents"])

	require.Len(t, report.Categories, 9)
	deposits, ok := report.Outcome("deposit")
	require.True(t, ok)
	assert.Equal(t, StatusSynced, deposits.Status)
	assert.Equal(t, 250, deposits.Added)
	assert.Equal(t, 4, deposits.Requests, "latest check plus three pages")
	assert.Equal(t, []string{endpoints[0]}, deposits.Endpoints)
	assert.Equal(t, Watermark(""), deposits.OldWatermark)
	assert.Equal(t, Watermark("1249"), deposits.NewWatermark)

	redeem, _ := report.Outcome("redeemRequestEvents")
	assert.Equal(t, StatusEmpty, redeem.Status)
	_, hasCursor := store.cursors["redeemRequestEvents"]
	assert.False(t, hasCursor, "empty categories leave no cursor")

	doc := store.docs["0x1000-0"]
	assert.Equal(t, "deposit", gjson.GetBytes(doc.Document, "type").String())
}

func TestOrchestrator_IncrementalRunFetchesOnlyNewerEvents(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, "990", "1000", "1010", "1030", "1050")
	client, _ := newTestClient(t, newTestClock(), fake)
	store := newFakeEventStore()
	store.cursors["depositEvents"] = "1000"
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{Categories: []CategoryDescriptor{deposits}})

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	outcome, _ := report.Outcome("depositEvents")
	assert.Equal(t, StatusSynced, outcome.Status)
	assert.Equal(t, 3, outcome.Added)
	assert.Equal(t, Watermark("1000"), outcome.OldWatermark)
	assert.Equal(t, Watermark("1050"), outcome.NewWatermark)
	assert.Equal(t, Watermark("1050"), store.cursors["depositEvents"])
	assert.Equal(t, 3, store.count("deposit"))
	assert.Contains(t, fake.requests()[1], `blockTimestamp_gt: "1000"`)
}

func TestOrchestrator_UpToDateSkipsDrain(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, "1000", "1050")
	client, _ := newTestClient(t, newTestClock(), fake)
	store := newFakeEventStore()
	store.cursors["depositEvents"] = "1050"
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{Categories: []CategoryDescriptor{deposits}})

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	outcome, _ := report.Outcome("depositEvents")
	assert.Equal(t, StatusUpToDate, outcome.Status)
	assert.Len(t, fake.requests(), 1, "only the latest check")
	assert.Equal(t, 0, store.inserts, "nothing to insert")
	assert.Equal(t, Watermark("1050"), store.cursors["depositEvents"])
}

func TestOrchestrator_SecondRunIsIdempotent(t *testing.T) {
	fake := newFakeSubgraph()
	fake.add(mustCategory(t, "depositEvents"), "1000", "1010")
	fake.add(mustCategory(t, "settleDepositEvents"), "1005")
	client, _ := newTestClient(t, newTestClock(), fake)
	store := newFakeEventStore()
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{})

	_, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Queued())
	assert.Equal(t, 1, store.inserts)
	for _, c := range report.Categories {
		assert.Contains(t, []string{StatusEmpty, StatusUpToDate}, c.Status, c.Category)
	}
}

func TestOrchestrator_ExhaustedEndpointsAbortBeforeInsert(t *testing.T) {
	clock := newTestClock()
	fake := newFakeSubgraph()
	fake.add(mustCategory(t, "depositRequestEvents"), "1000")
	client, endpoints := newTestClient(t, clock, fake)
	client.Registry().MarkRateLimited(endpoints[0], clock.Now())
	store := newFakeEventStore()
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{})

	_, err := o.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrEndpointsExhausted)
	assert.Equal(t, 0, store.inserts)
	assert.Empty(t, store.cursors)
	assert.Empty(t, fake.requests())
}

func TestOrchestrator_FetchErrorAbortsPassBeforeInsert(t *testing.T) {
	good := newFakeSubgraph()
	good.add(mustCategory(t, "depositRequestEvents"), "1000")
	client, _ := newTestClient(t, newTestClock(), good)
	store := newFakeEventStore()
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{})

	// the second category fails once the first has been queued
	good.mu.Lock()
	good.records["redeemRequestEvents"] = []map[string]any{{"id": "0x1", "blockTimestamp": "1000"}}
	good.mu.Unlock()

	report, err := o.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Equal(t, CursorCommitAfterFlush, report.CursorCommit)
	assert.Equal(t, 0, store.inserts)
	assert.Empty(t, store.cursors, "an aborted pass advances no cursor")
}

func TestOrchestrator_AbortedPassIsRecoveredByNextPass(t *testing.T) {
	pending := mustCategory(t, "depositRequestEvents")
	fake := newFakeSubgraph()
	fake.add(pending, "1000", "1010")
	client, _ := newTestClient(t, newTestClock(), fake)
	store := newFakeEventStore()
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{})

	fake.mu.Lock()
	fake.records["redeemRequestEvents"] = []map[string]any{{"id": "0x1", "blockTimestamp": "1000"}}
	fake.mu.Unlock()
	_, err := o.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, store.count(pending.Type))

	fake.mu.Lock()
	delete(fake.records, "redeemRequestEvents")
	fake.mu.Unlock()
	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	outcome, ok := report.Outcome("depositRequestEvents")
	require.True(t, ok)
	assert.Equal(t, StatusSynced, outcome.Status)
	assert.Equal(t, 2, outcome.Added)
	assert.Equal(t, 2, store.count(pending.Type))
	assert.Equal(t, Watermark("1010"), store.cursors["depositRequestEvents"])
}

func TestOrchestrator_ImmediateCommitAdvancesCursorOnAbortedPass(t *testing.T) {
	fake := newFakeSubgraph()
	fake.add(mustCategory(t, "depositRequestEvents"), "1000")
	client, _ := newTestClient(t, newTestClock(), fake)
	store := newFakeEventStore()
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{CursorCommit: CursorCommitImmediate})

	fake.mu.Lock()
	fake.records["redeemRequestEvents"] = []map[string]any{{"id": "0x1", "blockTimestamp": "1000"}}
	fake.mu.Unlock()

	_, err := o.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, store.inserts)
	assert.Equal(t, Watermark("1000"), store.cursors["depositRequestEvents"])
}

func TestOrchestrator_CursorCommitOnInsertFailure(t *testing.T) {
	for _, tt := range []struct {
		commit     CursorCommit
		wantCursor bool
	}{
		{CursorCommitImmediate, true},
		{CursorCommitAfterFlush, false},
	} {
		t.Run(string(tt.commit), func(t *testing.T) {
			deposits := mustCategory(t, "depositEvents")
			fake := newFakeSubgraph()
			fake.add(deposits, "1000")
			client, _ := newTestClient(t, newTestClock(), fake)
			store := newFakeEventStore()
			store.insertErr = errors.New("connection reset")
			o := newTestOrchestrator(t, client, store, OrchestratorOptions{
				Categories:   []CategoryDescriptor{deposits},
				CursorCommit: tt.commit,
			})

			report, err := o.RunOnce(context.Background())
			assert.EqualError(t, err, "insert events: connection reset")
			assert.Equal(t, tt.commit, report.CursorCommit)
			_, ok := store.cursors["depositEvents"]
			assert.Equal(t, tt.wantCursor, ok)
		})
	}
}

func TestOrchestrator_AfterFlushCommitsOnSuccess(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, "1000", "1020")
	client, _ := newTestClient(t, newTestClock(), fake)
	store := newFakeEventStore()
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{
		Categories:   []CategoryDescriptor{deposits},
		CursorCommit: CursorCommitAfterFlush,
	})

	_, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Watermark("1020"), store.cursors["depositEvents"])
}

func TestOrchestrator_DuplicatesAreCounted(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, "1000", "1010")
	client, _ := newTestClient(t, newTestClock(), fake)
	store := newFakeEventStore()
	store.docs["0x1000-0"] = StoredEvent{ID: "0x1000-0", Type: "deposit"}
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{Categories: []CategoryDescriptor{deposits}})

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Attempted: 2, Inserted: 1, Duplicates: 1}, report.Insert)
}

func TestOrchestrator_RateLimitedLatestCheckFailsOver(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	limited := newFakeSubgraph()
	limited.setStatus(http.StatusTooManyRequests)
	healthy := newFakeSubgraph()
	healthy.add(deposits, "1000")
	client, endpoints := newTestClient(t, newTestClock(), limited, healthy)
	store := newFakeEventStore()
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{Categories: []CategoryDescriptor{deposits}})

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	outcome, _ := report.Outcome("deposit")
	assert.Equal(t, []string{endpoints[1]}, outcome.Endpoints)
	assert.Equal(t, 1, store.count("deposit"))
}

func TestParseCursorCommit(t *testing.T) {
	c, err := ParseCursorCommit("")
	require.NoError(t, err)
	assert.Equal(t, CursorCommitAfterFlush, c)
	c, err = ParseCursorCommit(" After-Flush ")
	require.NoError(t, err)
	assert.Equal(t, CursorCommitAfterFlush, c)
	c, err = ParseCursorCommit("immediate")
	require.NoError(t, err)
	assert.Equal(t, CursorCommitImmediate, c)
	_, err = ParseCursorCommit("never")
	assert.Error(t, err)
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(nil, newFakeEventStore(), OrchestratorOptions{})
	assert.Error(t, err)
	_, err = NewOrchestrator(&Paginator{}, nil, OrchestratorOptions{})
	assert.Error(t, err)
}
