package status

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/model"
	"github.com/msageha/storebridge/internal/state"
	"github.com/msageha/storebridge/internal/uds"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRender_Golden(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		st   model.DaemonStatus
	}{
		{
			name: "stopped",
			st:   model.DaemonStatus{Deferred: []model.Command{}},
		},
		{
			name: "running",
			st: model.DaemonStatus{
				Running:     true,
				PID:         4242,
				StartedAt:   &started,
				Sink:        "rcon",
				Presence:    "rcon",
				IntervalSec: 30,
				Watermark:   12,
				Online:      []string{"Alice", "Steve"},
				Deferred: []model.Command{
					{ID: 9, McName: "Bob", PackageName: "VIP Rank", Command: "lp user Bob parent add vip", RequireOnline: true},
				},
				LastCycle: &model.CycleSummary{
					CycleID:    "0195f0a2-7c1e-7000-8000-000000000001",
					StartedAt:  started.Add(5 * time.Minute),
					DurationMS: 84,
					FetchOK:    true,
					Fetched:    3,
					Dispatched: []int64{11, 12},
					Deferred:   []int64{9},
					Ack:        model.AckOK,
				},
			},
		},
		{
			name: "running_fetch_failed",
			st: model.DaemonStatus{
				Running:     true,
				PID:         1,
				Sink:        "log",
				Presence:    "file",
				IntervalSec: 60,
				LastCycle: &model.CycleSummary{
					CycleID:    "c-1",
					StartedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
					DurationMS: 2,
					Ack:        model.AckNone,
					SaveError:  "save data.yml: disk full",
				},
			},
		},
		{
			name: "offline_locked",
			st: model.DaemonStatus{
				PID:       777,
				Watermark: 5,
				Deferred: []model.Command{
					{ID: 3, McName: "Bob", PackageName: "Coins", Command: "eco give Bob 100"},
					{ID: 4, McName: "Carol", PackageName: "Kit", Command: "kit starter Carol"},
				},
			},
		},
	}

	g := newGoldie(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Render(&buf, tt.st)
			g.Assert(t, tt.name, buf.Bytes())
		})
	}
}

func TestCollect_OfflineReadsStateFile(t *testing.T) {
	dir := t.TempDir()
	deferred := []model.Command{{ID: 8, McName: "Bob", Command: "give Bob apple 1", RequireOnline: true}}
	require.NoError(t, state.NewStore(dir).Save(8, deferred))

	st, err := Collect(dir)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Zero(t, st.PID)
	assert.Equal(t, int64(8), st.Watermark)
	assert.Equal(t, deferred, st.Deferred)
}

func TestCollect_OfflineReportsLockHolder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "locks"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "locks", "daemon.lock"), []byte("777\n"), 0600))

	st, err := Collect(dir)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, 777, st.PID)
	assert.Empty(t, st.Deferred)
	assert.NotNil(t, st.Deferred)
}

func TestCollect_LiveDaemon(t *testing.T) {
	dir, err := os.MkdirTemp("", "sbst")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	srv := uds.NewServer(filepath.Join(dir, uds.DefaultSocketName), logging.Discard())
	srv.Handle(uds.CmdStatus, func(context.Context, json.RawMessage) (any, error) {
		return model.DaemonStatus{Running: true, PID: 99, Watermark: 41, Deferred: []model.Command{}}, nil
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	st, err := Collect(dir)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 99, st.PID)
	assert.Equal(t, int64(41), st.Watermark)
}

func TestRun_JSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, state.NewStore(dir).Save(3, nil))

	var buf bytes.Buffer
	require.NoError(t, Run(dir, true, &buf))

	var st model.DaemonStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &st))
	assert.False(t, st.Running)
	assert.Equal(t, int64(3), st.Watermark)
}
