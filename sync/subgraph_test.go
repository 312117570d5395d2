package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

var listQueryPattern = regexp.MustCompile(`(\w+)\(first: (\d+), skip: (\d+), orderBy: blockTimestamp, orderDirection: (asc|desc)(?:, where: \{ blockTimestamp_gt: "([^"]*)" \})?\)`)

// fakeSubgraph answers list queries the way a graph-node deployment does.
type fakeSubgraph struct {
	mu       gosync.Mutex
	records  map[string][]map[string]any
	queries  []string
	status   int // when non-zero every request is answered with this status
	response string
}

func newFakeSubgraph() *fakeSubgraph {
	return &fakeSubgraph{records: make(map[string][]map[string]any)}
}

func (f *fakeSubgraph) add(category CategoryDescriptor, timestamps ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ts := range timestamps {
		id := fmt.Sprintf("0x%s-%d", ts, len(f.records[category.Key]))
		f.records[category.Key] = append(f.records[category.Key], testRecord(category, id, ts))
	}
}

func (f *fakeSubgraph) addRecord(category CategoryDescriptor, record map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[category.Key] = append(f.records[category.Key], record)
}

func (f *fakeSubgraph) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeSubgraph) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeSubgraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	query := gjson.GetBytes(body, "query").String()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":"too many requests"}`)
		return
	}
	if f.response != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.response)
		return
	}

	m := listQueryPattern.FindStringSubmatch(query)
	if m == nil {
		http.Error(w, "unexpected query", http.StatusBadRequest)
		return
	}
	category := m[1]
	first, _ := strconv.Atoi(m[2])
	skip, _ := strconv.Atoi(m[3])
	descending := m[4] == OrderDescending
	hasWhere := strings.Contains(query, "blockTimestamp_gt")

	var matched []map[string]any
	for _, rec := range f.records[category] {
		ts := Watermark(rec["blockTimestamp"].(string))
		if hasWhere && !ts.After(Watermark(m[5])) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a := Watermark(matched[i]["blockTimestamp"].(string))
		b := Watermark(matched[j]["blockTimestamp"].(string))
		if descending {
			return a.After(b)
		}
		return b.After(a)
	})
	if skip > len(matched) {
		skip = len(matched)
	}
	matched = matched[skip:]
	if first < len(matched) {
		matched = matched[:first]
	}
	if matched == nil {
		matched = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{category: matched}})
}

// testRecord fills every requested field of category.
func testRecord(category CategoryDescriptor, id, ts string) map[string]any {
	rec := make(map[string]any, len(category.Fields))
	for _, field := range category.Fields {
		rec[field] = fmt.Sprintf("%s-%s", field, id)
	}
	rec["id"] = id
	rec["blockTimestamp"] = ts
	rec["transactionHash"] = "0xtx" + id
	return rec
}

func mustCategory(t *testing.T, name string) CategoryDescriptor {
	t.Helper()
	c, ok := LookupCategory(name)
	if !ok {
		t.Fatalf("unknown category %s", name)
	}
	return c
}

// testClock is a settable clock for the endpoint registry.
type testClock struct {
	mu  gosync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSleeper records pauses without waiting.
type recordingSleeper struct {
	mu     gosync.Mutex
	pauses []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses = append(s.pauses, d)
	return ctx.Err()
}

// newTestClient serves the given fakes, in order, from httptest servers.
func newTestClient(t *testing.T, clock *testClock, fakes ...http.Handler) (*FailoverClient, []string) {
	t.Helper()
	var endpoints []string
	for _, f := range fakes {
		srv := httptest.NewServer(f)
		t.Cleanup(srv.Close)
		endpoints = append(endpoints, srv.URL)
	}
	registry := NewEndpointRegistry(RegistryWithClock(clock.Now))
	client, err := NewFailoverClient(endpoints, registry, ClientWithLogger(DiscardLogger))
	if err != nil {
		t.Fatal(err)
	}
	return client, endpoints
}
