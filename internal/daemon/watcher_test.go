package daemon

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/model"
	"github.com/msageha/storebridge/internal/state"
)

type watcherFixture struct {
	queue    *fakeQueue
	presence fakePresence
	sink     *fakeSink
	store    *memStore
	recorder *fakeRecorder
	logs     *bytes.Buffer
	w        *Watcher
}

func newWatcherFixture(t *testing.T, store *memStore, cmds ...model.Command) *watcherFixture {
	t.Helper()
	if store == nil {
		store = &memStore{}
	}
	f := &watcherFixture{
		queue:    newFakeQueue(cmds...),
		presence: fakePresence{},
		sink:     &fakeSink{},
		store:    store,
		recorder: &fakeRecorder{},
		logs:     &bytes.Buffer{},
	}
	w, err := NewWatcher(WatcherDeps{
		Queue:    f.queue,
		Presence: f.presence,
		Sink:     f.sink,
		Store:    f.store,
		Recorder: f.recorder,
		Logger:   logging.New(f.logs, logging.LevelDebug, "watcher"),
	})
	require.NoError(t, err)
	f.w = w
	return f
}

func TestWatcher_OfflineCommandDispatches(t *testing.T) {
	f := newWatcherFixture(t, nil, model.Command{ID: 5, Command: "say thanks"})

	r := f.w.RunCycle(context.Background())

	assert.True(t, r.FetchOK)
	assert.Equal(t, []int64{5}, r.Dispatched)
	assert.Equal(t, model.AckOK, r.Ack)
	assert.Equal(t, []string{"say thanks"}, f.sink.executed)
	assert.Equal(t, [][]int64{{5}}, f.queue.ackCalls)
	assert.Equal(t, int64(5), f.store.snap.Watermark)
	assert.Empty(t, f.store.snap.Deferred)
}

func TestWatcher_AbsentTargetDefersThenDispatches(t *testing.T) {
	cmd := model.Command{ID: 6, Command: "give Alice diamond 1", McName: "Alice", RequireOnline: true}
	f := newWatcherFixture(t, nil, cmd)

	r := f.w.RunCycle(context.Background())
	assert.Empty(t, r.Dispatched)
	assert.Equal(t, []int64{6}, r.Deferred)
	assert.Equal(t, model.AckNone, r.Ack)
	assert.Empty(t, f.queue.ackCalls)
	assert.Equal(t, int64(0), f.store.snap.Watermark)
	assert.Equal(t, []model.Command{cmd}, f.store.snap.Deferred)

	f.presence["Alice"] = true
	r = f.w.RunCycle(context.Background())
	assert.Equal(t, []int64{6}, r.Dispatched)
	assert.Empty(t, r.Deferred)
	assert.Equal(t, [][]int64{{6}}, f.queue.ackCalls)
	assert.Equal(t, int64(6), f.store.snap.Watermark)
	assert.Empty(t, f.store.snap.Deferred)
	assert.Equal(t, []string{"give Alice diamond 1"}, f.sink.executed)
}

func TestWatcher_IDAtOrBelowWatermarkIgnored(t *testing.T) {
	f := newWatcherFixture(t, &memStore{snap: state.Snapshot{Watermark: 5}},
		model.Command{ID: 3, Command: "say old"},
		model.Command{ID: 5, Command: "say same"},
	)

	r := f.w.RunCycle(context.Background())

	assert.True(t, r.FetchOK)
	assert.Empty(t, r.Dispatched)
	assert.Empty(t, f.sink.executed)
	assert.Empty(t, f.queue.ackCalls)
	assert.Equal(t, int64(5), f.store.snap.Watermark)
}

func TestWatcher_AckFailureStillAdvancesAndPersists(t *testing.T) {
	f := newWatcherFixture(t, nil, model.Command{ID: 7, Command: "say seven"})
	f.queue.ackOK = false

	r := f.w.RunCycle(context.Background())

	assert.Equal(t, model.AckFailed, r.Ack)
	assert.Equal(t, int64(7), f.store.snap.Watermark)
	assert.Equal(t, []bool{false}, f.recorder.acks)
	assert.Contains(t, f.logs.String(), "ack_failed")

	// Not re-dispatched or re-acknowledged on the next cycle.
	f.w.RunCycle(context.Background())
	assert.Len(t, f.sink.executed, 1)
	assert.Len(t, f.queue.ackCalls, 1)
}

func TestWatcher_FetchFailureIsNoOp(t *testing.T) {
	deferred := model.Command{ID: 2, McName: "Bob", RequireOnline: true}
	store := &memStore{snap: state.Snapshot{Watermark: 1, Deferred: []model.Command{deferred}}}
	f := newWatcherFixture(t, store)
	f.queue.setSnapshot(model.QueueSnapshot{Success: false, Error: "timeout"})
	f.presence["Bob"] = true

	r := f.w.RunCycle(context.Background())

	assert.False(t, r.FetchOK)
	assert.Equal(t, 0, store.saves, "nothing is persisted after a failed fetch")
	assert.Empty(t, f.sink.executed, "deferred members wait for a successful fetch")
	assert.Equal(t, int64(1), f.w.Status().Watermark)
	assert.Equal(t, []model.Command{deferred}, f.w.Status().Deferred)
}

func TestWatcher_DispatchesInAscendingIDOrder(t *testing.T) {
	f := newWatcherFixture(t, nil,
		model.Command{ID: 12, Command: "c12"},
		model.Command{ID: 10, Command: "c10"},
		model.Command{ID: 11, Command: "c11"},
	)

	r := f.w.RunCycle(context.Background())

	assert.Equal(t, []int64{10, 11, 12}, r.Dispatched)
	assert.Equal(t, []string{"c10", "c11", "c12"}, f.sink.executed)
	assert.Equal(t, [][]int64{{10, 11, 12}}, f.queue.ackCalls)
}

func TestWatcher_AtMostOnceAcrossCycles(t *testing.T) {
	f := newWatcherFixture(t, nil,
		model.Command{ID: 1, Command: "c1"},
		model.Command{ID: 2, Command: "c2", McName: "Carol"},
	)

	for i := 0; i < 3; i++ {
		f.w.RunCycle(context.Background())
	}
	assert.Equal(t, []string{"c1", "c2"}, f.sink.executed)
	assert.Len(t, f.queue.ackCalls, 1)
}

func TestWatcher_TargetWithoutRequireOnlineDispatches(t *testing.T) {
	f := newWatcherFixture(t, nil, model.Command{ID: 4, Command: "rank Dave vip", McName: "Dave"})

	r := f.w.RunCycle(context.Background())

	assert.Equal(t, []int64{4}, r.Dispatched)
}

func TestWatcher_DeferredBelowWatermarkStillEligible(t *testing.T) {
	low := model.Command{ID: 3, Command: "give Erin apple", McName: "Erin", RequireOnline: true}
	f := newWatcherFixture(t, nil, low, model.Command{ID: 8, Command: "say eight"})

	r := f.w.RunCycle(context.Background())
	assert.Equal(t, []int64{8}, r.Dispatched)
	assert.Equal(t, []int64{3}, r.Deferred)
	assert.Equal(t, int64(8), f.store.snap.Watermark)

	f.presence["Erin"] = true
	r = f.w.RunCycle(context.Background())
	assert.Equal(t, []int64{3}, r.Dispatched)
	assert.Equal(t, int64(8), f.store.snap.Watermark, "watermark never moves backwards")
	assert.Empty(t, f.store.snap.Deferred)
}

func TestWatcher_DeferredDispatchesEvenWhenGoneFromQueue(t *testing.T) {
	cmd := model.Command{ID: 20, Command: "give Finn sword", McName: "Finn", RequireOnline: true}
	f := newWatcherFixture(t, &memStore{snap: state.Snapshot{Deferred: []model.Command{cmd}}})
	f.queue.setSnapshot(model.QueueSnapshot{Success: true})
	f.presence["Finn"] = true

	r := f.w.RunCycle(context.Background())

	assert.Equal(t, []int64{20}, r.Dispatched)
	assert.Equal(t, [][]int64{{20}}, f.queue.ackCalls)
	assert.Equal(t, int64(20), f.store.snap.Watermark)
}

func TestWatcher_DuplicateIDInBatchDispatchesOnce(t *testing.T) {
	f := newWatcherFixture(t, nil,
		model.Command{ID: 30, Command: "first"},
		model.Command{ID: 30, Command: "second"},
	)

	r := f.w.RunCycle(context.Background())

	assert.Equal(t, []int64{30}, r.Dispatched)
	assert.Equal(t, []string{"first"}, f.sink.executed)
}

func TestWatcher_SinkErrorCountsAsDispatched(t *testing.T) {
	f := newWatcherFixture(t, nil, model.Command{ID: 40, Command: "say x"})
	f.sink.err = errInjected

	r := f.w.RunCycle(context.Background())

	assert.Equal(t, []int64{40}, r.Dispatched)
	assert.Equal(t, int64(40), f.store.snap.Watermark)
	assert.Contains(t, f.logs.String(), "sink_error")
}

func TestWatcher_SaveFailureReported(t *testing.T) {
	f := newWatcherFixture(t, &memStore{saveErr: errInjected}, model.Command{ID: 1, Command: "x"})

	r := f.w.RunCycle(context.Background())

	assert.ErrorIs(t, r.SaveErr, errInjected)
	assert.Equal(t, int64(1), f.w.Status().Watermark, "in-memory state is kept")
}

func TestWatcher_RecorderErrorsDoNotStopCycle(t *testing.T) {
	f := newWatcherFixture(t, nil,
		model.Command{ID: 1, Command: "x"},
		model.Command{ID: 2, McName: "Gus", RequireOnline: true},
	)
	f.recorder.err = errInjected

	r := f.w.RunCycle(context.Background())

	assert.Equal(t, []int64{1}, r.Dispatched)
	assert.Equal(t, []int64{1}, f.recorder.dispatched)
	assert.Equal(t, []int64{2}, f.recorder.deferred)
	assert.Equal(t, 3, strings.Count(f.logs.String(), "ledger_write_failed"))
}

func TestWatcher_RestartRestoresState(t *testing.T) {
	dir := t.TempDir()
	cmd := model.Command{ID: 6, Command: "give Alice x", McName: "Alice", RequireOnline: true}
	queue := newFakeQueue(model.Command{ID: 5, Command: "say five"}, cmd)

	w1, err := NewWatcher(WatcherDeps{Queue: queue, Presence: fakePresence{}, Sink: &fakeSink{}, Store: state.NewStore(dir)})
	require.NoError(t, err)
	w1.RunCycle(context.Background())

	sink := &fakeSink{}
	w2, err := NewWatcher(WatcherDeps{Queue: queue, Presence: fakePresence{"Alice": true}, Sink: sink, Store: state.NewStore(dir)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), w2.Status().Watermark)
	assert.Equal(t, []model.Command{cmd}, w2.Status().Deferred)

	r := w2.RunCycle(context.Background())
	assert.Equal(t, []int64{6}, r.Dispatched)
	assert.Equal(t, []string{"give Alice x"}, sink.executed)
}

func TestWatcher_BeforeCycleRuns(t *testing.T) {
	queue := newFakeQueue(model.Command{ID: 1, McName: "Hana", RequireOnline: true})
	presence := fakePresence{}
	calls := 0
	w, err := NewWatcher(WatcherDeps{
		Queue: queue, Presence: presence, Sink: &fakeSink{}, Store: &memStore{},
		BeforeCycle: func(context.Context) error {
			calls++
			presence["Hana"] = true
			return nil
		},
	})
	require.NoError(t, err)

	r := w.RunCycle(context.Background())
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{1}, r.Dispatched)
}

func TestWatcher_PreviewDoesNotMutate(t *testing.T) {
	waiting := model.Command{ID: 4, McName: "Ivy", RequireOnline: true}
	store := &memStore{snap: state.Snapshot{Watermark: 2, Deferred: []model.Command{waiting}}}
	f := newWatcherFixture(t, store,
		model.Command{ID: 6, McName: "Jo", RequireOnline: true},
		model.Command{ID: 1},
		model.Command{ID: 5},
		waiting,
	)

	entries, err := f.w.Preview(context.Background())
	require.NoError(t, err)

	actions := map[int64]string{}
	for _, e := range entries {
		actions[e.ID] = e.Action
	}
	assert.Equal(t, map[int64]string{1: "skip", 4: "waiting", 5: "dispatch", 6: "defer"}, actions)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Empty(t, f.sink.executed)
	assert.Equal(t, 0, store.saves)
}

func TestNewWatcher_RequiresCollaborators(t *testing.T) {
	_, err := NewWatcher(WatcherDeps{})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherDeps{Queue: newFakeQueue(), Presence: fakePresence{}, Sink: &fakeSink{}, Store: &memStore{loadErr: errInjected}})
	assert.ErrorIs(t, err, errInjected)
}
