package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/model"
	"github.com/msageha/storebridge/internal/state"
)

// QueueClient is the remote storefront queue. Neither method returns an error:
// transport failures surface as Success=false and false respectively.
type QueueClient interface {
	FetchQueue(ctx context.Context) model.QueueSnapshot
	Acknowledge(ctx context.Context, ids []int64) bool
}

// PresenceOracle answers whether a player is connected. It must be an in-memory lookup.
type PresenceOracle interface {
	IsPresent(name string) bool
}

// ExecutionSink submits a console command to the game server. An error means
// submission failed; the command still counts as dispatched.
type ExecutionSink interface {
	Execute(ctx context.Context, command string) error
}

// Recorder receives per-command history. Errors are logged and otherwise ignored.
type Recorder interface {
	RecordDispatch(ctx context.Context, cycleID string, c model.Command) error
	RecordDeferred(ctx context.Context, cycleID string, c model.Command) error
	RecordAck(ctx context.Context, cycleID string, ids []int64, ok bool) error
}

// StateStore persists the watermark and deferred set.
type StateStore interface {
	Load() (state.LoadResult, error)
	Save(watermark int64, deferred []model.Command) error
}

// WatcherDeps are the collaborators a Watcher is built from.
type WatcherDeps struct {
	Queue    QueueClient
	Presence PresenceOracle
	Sink     ExecutionSink
	Store    StateStore
	Recorder Recorder
	Logger   *logging.Logger

	// BeforeCycle runs ahead of each fetch, e.g. to refresh presence. A failure is logged only.
	BeforeCycle func(ctx context.Context) error
}

// CycleReport summarizes one RunCycle call.
type CycleReport struct {
	CycleID    string          `json:"cycle_id"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	FetchOK    bool            `json:"fetch_ok"`
	Fetched    int             `json:"fetched"`
	Dispatched []int64         `json:"dispatched,omitempty"`
	Deferred   []int64         `json:"deferred,omitempty"`
	Ack        model.AckResult `json:"ack"`
	SaveErr    error           `json:"-"`
}

// WatcherStatus is a point-in-time view of the reconciler state.
type WatcherStatus struct {
	Watermark int64           `json:"watermark"`
	Deferred  []model.Command `json:"deferred"`
}

// Watcher reconciles the remote queue with the local server, one cycle at a time.
type Watcher struct {
	mu sync.Mutex

	queue       QueueClient
	presence    PresenceOracle
	sink        ExecutionSink
	store       StateStore
	recorder    Recorder
	logger      *logging.Logger
	beforeCycle func(ctx context.Context) error

	watermark Watermark
	deferred  *DeferredSet

	newCycleID func() string
	now        func() time.Time
}

// NewWatcher loads persisted state and returns a ready Watcher. Malformed
// pending entries are logged and dropped; only an unreadable store is an error.
func NewWatcher(deps WatcherDeps) (*Watcher, error) {
	if deps.Queue == nil || deps.Presence == nil || deps.Sink == nil || deps.Store == nil {
		return nil, fmt.Errorf("watcher: queue, presence, sink and store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	res, err := deps.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if res.Recovery != nil {
		logger.Warnf("state_recovered quarantined=%s from_backup=%t backup_err=%v",
			res.Recovery.QuarantinedTo, res.Recovery.FromBackup, res.Recovery.BackupErr)
	}
	for _, entryErr := range res.EntryErrors {
		logger.Errorf("state_entry_dropped error=%v", entryErr)
	}

	w := &Watcher{
		queue:       deps.Queue,
		presence:    deps.Presence,
		sink:        deps.Sink,
		store:       deps.Store,
		recorder:    deps.Recorder,
		logger:      logger,
		beforeCycle: deps.BeforeCycle,
		watermark:   NewWatermark(res.Watermark),
		deferred:    NewDeferredSet(res.Deferred...),
		newCycleID:  func() string { return uuid.Must(uuid.NewV7()).String() },
		now:         time.Now,
	}
	logger.Infof("watcher_loaded watermark=%d deferred=%d", w.watermark.Value(), w.deferred.Len())
	return w, nil
}

// RunCycle performs fetch, classify, dispatch, acknowledge and persist.
// Calls are serialized. The cycle ignores cancellation of ctx once started so
// that a shutdown never leaves a dispatched batch unsaved.
func (w *Watcher) RunCycle(ctx context.Context) CycleReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	report := CycleReport{CycleID: w.newCycleID(), StartedAt: w.now(), Ack: model.AckNone}
	defer func() { report.Duration = w.now().Sub(report.StartedAt) }()

	if w.beforeCycle != nil {
		if err := w.beforeCycle(ctx); err != nil {
			w.logger.Warnf("before_cycle cycle=%s error=%v", report.CycleID, err)
		}
	}

	snap := w.queue.FetchQueue(ctx)
	if !snap.Success {
		w.logger.Warnf("queue_fetch_failed cycle=%s error=%q message=%q", report.CycleID, snap.Error, snap.Message)
		return report
	}
	report.FetchOK = true
	report.Fetched = len(snap.Result)
	w.logger.Debugf("queue_fetched cycle=%s commands=%d", report.CycleID, len(snap.Result))

	var completed []int64

	fresh := make([]model.Command, 0, len(snap.Result))
	for _, c := range snap.Result {
		if w.watermark.Covers(c.ID) || w.deferred.Contains(c) {
			continue
		}
		fresh = append(fresh, c)
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })

	for _, c := range fresh {
		// A duplicate id later in the same batch is covered once the first copy dispatches.
		if w.watermark.Covers(c.ID) {
			continue
		}
		if w.eligibleNew(c) {
			w.dispatch(ctx, &report, c)
			completed = append(completed, c.ID)
			continue
		}
		if w.deferred.Add(c) {
			report.Deferred = append(report.Deferred, c.ID)
			w.logger.Infof("pending cycle=%s %s", report.CycleID, c)
			w.record(func() error { return w.recorder.RecordDeferred(ctx, report.CycleID, c) })
		}
	}

	for _, c := range w.deferred.Members() {
		if c.HasTarget() && !w.presence.IsPresent(c.McName) {
			continue
		}
		w.dispatch(ctx, &report, c)
		completed = append(completed, c.ID)
		w.deferred.Remove(c)
	}

	if len(completed) > 0 {
		if w.queue.Acknowledge(ctx, completed) {
			report.Ack = model.AckOK
			w.logger.Infof("ack_ok cycle=%s ids=%v", report.CycleID, completed)
		} else {
			report.Ack = model.AckFailed
			w.logger.Errorf("ack_failed cycle=%s ids=%v", report.CycleID, completed)
		}
		ok := report.Ack == model.AckOK
		w.record(func() error { return w.recorder.RecordAck(ctx, report.CycleID, completed, ok) })
	}

	if err := w.saveLocked(); err != nil {
		report.SaveErr = err
		w.logger.Errorf("state_save_failed cycle=%s error=%v", report.CycleID, err)
	}
	return report
}

// eligibleNew decides a command seen for the first time.
func (w *Watcher) eligibleNew(c model.Command) bool {
	if !c.HasTarget() || !c.RequireOnline {
		return true
	}
	return w.presence.IsPresent(c.McName)
}

func (w *Watcher) dispatch(ctx context.Context, report *CycleReport, c model.Command) {
	if err := w.sink.Execute(ctx, c.Command); err != nil {
		w.logger.Errorf("sink_error cycle=%s id=%d error=%v", report.CycleID, c.ID, err)
	}
	w.logger.Infof("processed cycle=%s %s", report.CycleID, c)
	report.Dispatched = append(report.Dispatched, c.ID)
	w.watermark.Advance(c.ID)
	w.record(func() error { return w.recorder.RecordDispatch(ctx, report.CycleID, c) })
}

func (w *Watcher) record(fn func() error) {
	if w.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		w.logger.Warnf("ledger_write_failed error=%v", err)
	}
}

// Save persists the current state. Used by the shutdown and reload paths.
func (w *Watcher) Save() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saveLocked()
}

func (w *Watcher) saveLocked() error {
	return w.store.Save(w.watermark.Value(), w.deferred.Members())
}

func (w *Watcher) Status() WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WatcherStatus{Watermark: w.watermark.Value(), Deferred: w.deferred.Members()}
}

// Preview fetches the queue and classifies it without executing or mutating anything.
func (w *Watcher) Preview(ctx context.Context) ([]model.PreviewEntry, error) {
	snap := w.queue.FetchQueue(ctx)
	if !snap.Success {
		return nil, fmt.Errorf("queue fetch failed: %s %s", snap.Error, snap.Message)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	entries := make([]model.PreviewEntry, 0, len(snap.Result))
	for _, c := range snap.Result {
		e := model.PreviewEntry{ID: c.ID, Target: c.McName}
		switch {
		case w.deferred.Contains(c):
			e.Action = "waiting"
		case w.watermark.Covers(c.ID):
			e.Action = "skip"
		case w.eligibleNew(c):
			e.Action = "dispatch"
		default:
			e.Action = "defer"
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Summary converts the report to its wire form.
func (r CycleReport) Summary() model.CycleSummary {
	s := model.CycleSummary{
		CycleID:    r.CycleID,
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration.Milliseconds(),
		FetchOK:    r.FetchOK,
		Fetched:    r.Fetched,
		Dispatched: r.Dispatched,
		Deferred:   r.Deferred,
		Ack:        r.Ack,
	}
	if r.SaveErr != nil {
		s.SaveError = r.SaveErr.Error()
	}
	return s
}
