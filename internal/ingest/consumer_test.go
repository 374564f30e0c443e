package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"dispatch/internal/domain"
	"dispatch/internal/logging"
	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// fakeReader serves queued results, then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	results   []fetchResult
	fetches   int
	committed []int64
	fetchedAt []time.Time
	drained   chan struct{}
	once      sync.Once
}

type fetchResult struct {
	msg kafka.Message
	err error
}

func newFakeReader(results ...fetchResult) *fakeReader {
	return &fakeReader{results: results, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetches++
	r.fetchedAt = append(r.fetchedAt, time.Now())
	if len(r.results) > 0 {
		res := r.results[0]
		r.results = r.results[1:]
		r.mu.Unlock()
		return res.msg, res.err
	}
	r.mu.Unlock()
	r.once.Do(func() { close(r.drained) })
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeUpdater struct {
	mu      sync.Mutex
	calls   int
	failN   int
	failErr error
	applied map[string]domain.Coordinate
}

func (u *fakeUpdater) UpdateLocation(_ context.Context, id string, c domain.Coordinate) (*domain.DriverPresence, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.calls <= u.failN {
		return nil, u.failErr
	}
	if id == "ghost" {
		return nil, repository.ErrNotFound
	}
	if u.applied == nil {
		u.applied = make(map[string]domain.Coordinate)
	}
	u.applied[id] = c
	return &domain.DriverPresence{DriverID: id, Location: &c}, nil
}

func ping(t *testing.T, offset int64, p LocationPing) fetchResult {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return fetchResult{msg: kafka.Message{Offset: offset, Key: []byte(p.DriverID), Value: b}}
}

func runUntilDrained(t *testing.T, c *LocationConsumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-r.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the reader")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

var fastBackoff = Backoff{Min: 5 * time.Millisecond, Max: 20 * time.Millisecond}

func TestConsumerAppliesAndCommits(t *testing.T) {
	t.Parallel()

	r := newFakeReader(
		ping(t, 1, LocationPing{DriverID: "d1", Lat: 12.9, Lng: 77.6}),
		fetchResult{msg: kafka.Message{Offset: 2, Value: []byte("not json")}},
		ping(t, 3, LocationPing{DriverID: "ghost", Lat: 1, Lng: 1}),
	)
	u := &fakeUpdater{}
	runUntilDrained(t, NewLocationConsumer(r, u, fastBackoff, logging.Discard()), r)

	if got := u.applied["d1"]; got.Lat != 12.9 || got.Lng != 77.6 {
		t.Errorf("applied = %+v", u.applied)
	}
	if len(r.committed) != 3 {
		t.Errorf("committed %v, want all three offsets", r.committed)
	}
}

func TestConsumerBacksOffOnFetchErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker unavailable")
	r := newFakeReader(
		fetchResult{err: boom},
		fetchResult{err: boom},
		fetchResult{err: boom},
		ping(t, 1, LocationPing{DriverID: "d1", Lat: 1, Lng: 1}),
	)
	u := &fakeUpdater{}
	runUntilDrained(t, NewLocationConsumer(r, u, fastBackoff, logging.Discard()), r)

	if r.fetches < 5 {
		t.Fatalf("fetches = %d", r.fetches)
	}
	// Delays: 5ms, 10ms, 20ms.
	if gap := r.fetchedAt[3].Sub(r.fetchedAt[0]); gap < 35*time.Millisecond {
		t.Errorf("retries spanned %v, expected backoff of at least 35ms", gap)
	}
	if _, ok := u.applied["d1"]; !ok {
		t.Error("ping after recovery was not applied")
	}
}

func TestConsumerRetriesUnavailableStore(t *testing.T) {
	t.Parallel()

	r := newFakeReader(ping(t, 7, LocationPing{DriverID: "d1", Lat: 1, Lng: 1}))
	u := &fakeUpdater{failN: 2, failErr: service.ErrStoreUnavailable}
	runUntilDrained(t, NewLocationConsumer(r, u, fastBackoff, logging.Discard()), r)

	if u.calls != 3 {
		t.Errorf("calls = %d, want 3", u.calls)
	}
	if len(r.committed) != 1 || r.committed[0] != 7 {
		t.Errorf("committed = %v", r.committed)
	}
}

func TestConsumerLeavesFailedPingUncommitted(t *testing.T) {
	t.Parallel()

	r := newFakeReader(ping(t, 9, LocationPing{DriverID: "d1", Lat: 1, Lng: 1}))
	u := &fakeUpdater{failN: 10, failErr: service.ErrStoreUnavailable}
	runUntilDrained(t, NewLocationConsumer(r, u, fastBackoff, logging.Discard()), r)

	if len(r.committed) != 0 {
		t.Errorf("committed = %v, want none", r.committed)
	}
}

func TestBackoffNext(t *testing.T) {
	t.Parallel()

	b := DefaultBackoff
	var d time.Duration
	var got []time.Duration
	for i := 0; i < 7; i++ {
		d = b.next(d)
		got = append(got, d)
	}
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i := range want {
		if got[i] != want[i]*time.Second {
			t.Errorf("step %d = %v, want %v", i, got[i], want[i]*time.Second)
		}
	}
}
