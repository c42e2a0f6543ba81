package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/model"
)

func wiringConfig(dir string) model.Config {
	return model.Config{
		Store: model.StoreConfig{Token: "tok", BaseURL: "http://127.0.0.1:1"},
		Host: model.HostConfig{
			Sink:       "log",
			Presence:   "file",
			RosterPath: filepath.Join(dir, "roster.txt"),
		},
		Ledger: model.LedgerConfig{Path: filepath.Join(dir, "ledger.db")},
	}
}

func TestBuildRuntime_LogSinkWithFileRoster(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roster.txt"), []byte("Alice\n"), 0644))

	rt, err := BuildRuntime(wiringConfig(dir), dir, logging.Discard())
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Start(context.Background()))
	assert.True(t, rt.Roster.IsPresent("alice"))
	assert.Equal(t, int64(0), rt.Watcher.Status().Watermark)

	_, err = os.Stat(filepath.Join(dir, "ledger.db"))
	assert.True(t, os.IsNotExist(err), "ledger disabled")
}

func TestBuildRuntime_OpensLedger(t *testing.T) {
	dir := t.TempDir()
	cfg := wiringConfig(dir)
	cfg.Ledger.Enabled = true

	rt, err := BuildRuntime(cfg, dir, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	_, err = os.Stat(filepath.Join(dir, "ledger.db"))
	assert.NoError(t, err)
}

func TestBuildRuntime_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Config)
		want   string
	}{
		{"unknown sink", func(c *model.Config) { c.Host.Sink = "carrier-pigeon" }, "unknown sink"},
		{"unknown presence", func(c *model.Config) { c.Host.Presence = "psychic" }, "unknown presence"},
		{"missing token", func(c *model.Config) { c.Store.Token = "" }, "token"},
		{"bad tmux target", func(c *model.Config) {
			c.Host.Sink = "tmux"
			c.Host.Tmux.Target = ""
		}, "target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := wiringConfig(dir)
			tt.mutate(&cfg)
			_, err := BuildRuntime(cfg, dir, logging.Discard())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
