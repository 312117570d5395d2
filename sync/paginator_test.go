package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timestamps(from, n int) []string {
	result := make([]string, n)
	for i := range result {
		result[i] = fmt.Sprintf("%d", from+i)
	}
	return result
}

func TestPaginator_DrainAll250RecordsIn3Requests(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, timestamps(1700000000, 250)...)
	client, endpoints := newTestClient(t, newTestClock(), fake)
	sleeper := &recordingSleeper{}
	p := NewPaginator(client, PaginatorWithSleeper(sleeper.Sleep), PaginatorWithLogger(DiscardLogger))

	drain, err := p.DrainAll(context.Background(), deposits, nil)
	require.NoError(t, err)
	assert.Len(t, drain.Events, 250)
	assert.Equal(t, 3, drain.Requests)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, sleeper.pauses)
	assert.Equal(t, []string{endpoints[0]}, drain.Endpoints)

	queries := fake.requests()
	require.Len(t, queries, 3)
	for i, q := range queries {
		assert.Contains(t, q, fmt.Sprintf("first: 100, skip: %d,", i*100))
		assert.Contains(t, q, "orderDirection: asc")
		assert.NotContains(t, q, "where", "no watermark means no filter")
	}
	for i := 1; i < len(drain.Events); i++ {
		assert.True(t, drain.Events[i].Watermark().After(drain.Events[i-1].Watermark()))
	}
}

func TestPaginator_DrainAllStopsAtEmptyPage(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, timestamps(1000, 200)...)
	client, _ := newTestClient(t, newTestClock(), fake)
	p := NewPaginator(client, PaginatorWithDelay(0), PaginatorWithLogger(DiscardLogger))

	drain, err := p.DrainAll(context.Background(), deposits, nil)
	require.NoError(t, err)
	assert.Len(t, drain.Events, 200)
	assert.Equal(t, 3, drain.Requests)
}

func TestPaginator_DrainAllAfterWatermark(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, "990", "1000", "1010", "1030", "1050")
	client, _ := newTestClient(t, newTestClock(), fake)
	p := NewPaginator(client, PaginatorWithDelay(0), PaginatorWithLogger(DiscardLogger))

	since := Watermark("1000")
	drain, err := p.DrainAll(context.Background(), deposits, &since)
	require.NoError(t, err)
	var got []Watermark
	for _, e := range drain.Events {
		got = append(got, e.Watermark())
	}
	assert.Equal(t, []Watermark{"1010", "1030", "1050"}, got)
	assert.Contains(t, fake.requests()[0], `where: { blockTimestamp_gt: "1000" }`)
}

func TestPaginator_FetchLatest(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, "1010", "1050", "1030")
	client, endpoints := newTestClient(t, newTestClock(), fake)
	p := NewPaginator(client, PaginatorWithLogger(DiscardLogger))

	latest, endpoint, err := p.FetchLatest(context.Background(), deposits)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, Watermark("1050"), latest.Watermark())
	assert.Equal(t, endpoints[0], endpoint)
	assert.True(t, strings.Contains(fake.requests()[0], "first: 1, skip: 0, orderBy: blockTimestamp, orderDirection: desc"))

	latest, _, err = p.FetchLatest(context.Background(), mustCategory(t, "withdrawEvents"))
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestPaginator_NullListEndsDrain(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.response = `{"data":{"depositEvents":null}}`
	client, _ := newTestClient(t, newTestClock(), fake)
	p := NewPaginator(client, PaginatorWithDelay(0), PaginatorWithLogger(DiscardLogger))

	latest, _, err := p.FetchLatest(context.Background(), deposits)
	require.NoError(t, err)
	assert.Nil(t, latest)

	drain, err := p.DrainAll(context.Background(), deposits, nil)
	require.NoError(t, err)
	assert.Empty(t, drain.Events)
	assert.Equal(t, 1, drain.Requests)
}

func TestPaginator_PauseIsCancellable(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, timestamps(1000, 150)...)
	client, _ := newTestClient(t, newTestClock(), fake)
	p := NewPaginator(client, PaginatorWithDelay(time.Hour), PaginatorWithLogger(DiscardLogger))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.DrainAll(ctx, deposits, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Len(t, fake.requests(), 1)
}

func TestPaginator_RecordMissingFieldFailsDecode(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	rec := testRecord(deposits, "0xabc", "1000")
	delete(rec, "shares")
	fake.addRecord(deposits, rec)
	client, _ := newTestClient(t, newTestClock(), fake)
	p := NewPaginator(client, PaginatorWithLogger(DiscardLogger))

	_, err := p.DrainAll(context.Background(), deposits, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingField)
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "shares", decodeErr.Field)
	assert.Equal(t, 0, decodeErr.Index)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
