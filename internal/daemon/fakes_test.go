package daemon

import (
	"context"
	"errors"
	"sync"

	"github.com/msageha/storebridge/internal/model"
	"github.com/msageha/storebridge/internal/state"
)

type fakeQueue struct {
	mu       sync.Mutex
	snaps    []model.QueueSnapshot
	fetches  int
	ackOK    bool
	ackCalls [][]int64
}

func newFakeQueue(cmds ...model.Command) *fakeQueue {
	return &fakeQueue{snaps: []model.QueueSnapshot{{Success: true, Result: cmds}}, ackOK: true}
}

// FetchQueue returns the queued snapshots in order, repeating the last one.
func (q *fakeQueue) FetchQueue(context.Context) model.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.fetches
	if i >= len(q.snaps) {
		i = len(q.snaps) - 1
	}
	q.fetches++
	return q.snaps[i]
}

func (q *fakeQueue) Acknowledge(_ context.Context, ids []int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ackCalls = append(q.ackCalls, append([]int64(nil), ids...))
	return q.ackOK
}

func (q *fakeQueue) acks() [][]int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]int64(nil), q.ackCalls...)
}

func (q *fakeQueue) setSnapshot(s model.QueueSnapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snaps = []model.QueueSnapshot{s}
	q.fetches = 0
}

type fakePresence map[string]bool

func (p fakePresence) IsPresent(name string) bool { return p[name] }

type fakeSink struct {
	mu       sync.Mutex
	executed []string
	err      error
}

func (s *fakeSink) Execute(_ context.Context, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, command)
	return s.err
}

func (s *fakeSink) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

type memStore struct {
	snap    state.Snapshot
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load() (state.LoadResult, error) {
	if m.loadErr != nil {
		return state.LoadResult{}, m.loadErr
	}
	return state.LoadResult{Snapshot: state.Snapshot{
		Watermark: m.snap.Watermark,
		Deferred:  append([]model.Command(nil), m.snap.Deferred...),
	}}, nil
}

func (m *memStore) Save(watermark int64, deferred []model.Command) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap = state.Snapshot{Watermark: watermark, Deferred: append([]model.Command(nil), deferred...)}
	return nil
}

type fakeRecorder struct {
	dispatched []int64
	deferred   []int64
	acks       []bool
	err        error
}

func (r *fakeRecorder) RecordDispatch(_ context.Context, _ string, c model.Command) error {
	r.dispatched = append(r.dispatched, c.ID)
	return r.err
}

func (r *fakeRecorder) RecordDeferred(_ context.Context, _ string, c model.Command) error {
	r.deferred = append(r.deferred, c.ID)
	return r.err
}

func (r *fakeRecorder) RecordAck(_ context.Context, _ string, _ []int64, ok bool) error {
	r.acks = append(r.acks, ok)
	return r.err
}

var errInjected = errors.New("injected")
