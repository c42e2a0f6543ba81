// Package status reports the reconciler state, live from the daemon or from disk when it is stopped.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/storebridge/internal/lock"
	"github.com/msageha/storebridge/internal/model"
	"github.com/msageha/storebridge/internal/state"
	"github.com/msageha/storebridge/internal/uds"
)

// Run collects the status for dataDir and writes it to w as text or JSON.
func Run(dataDir string, jsonOutput bool, w io.Writer) error {
	st, err := Collect(dataDir)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	Render(w, st)
	return nil
}

// Collect asks the daemon for its status. When no daemon answers, the persisted
// state file is read instead and Running is false.
func Collect(dataDir string) (model.DaemonStatus, error) {
	client := uds.NewClient(filepath.Join(dataDir, uds.DefaultSocketName))
	client.SetTimeout(5 * time.Second)

	st, err := client.Status()
	if err == nil {
		return st, nil
	}
	var connErr *uds.ConnectError
	if !errors.As(err, &connErr) {
		return st, fmt.Errorf("query daemon: %w", err)
	}
	return offline(dataDir)
}

func offline(dataDir string) (model.DaemonStatus, error) {
	res, err := state.NewStore(dataDir).Load()
	if err != nil {
		return model.DaemonStatus{}, err
	}
	st := model.DaemonStatus{
		Watermark: res.Watermark,
		Deferred:  res.Deferred,
	}
	// A held lock with no socket means a daemon that is starting or wedged.
	if pid, err := lock.ReadHolder(filepath.Join(dataDir, "locks", "daemon.lock")); err == nil {
		st.PID = pid
	}
	if st.Deferred == nil {
		st.Deferred = []model.Command{}
	}
	return st, nil
}

// Render writes the human-readable status.
func Render(w io.Writer, st model.DaemonStatus) {
	if st.Running {
		fmt.Fprintf(w, "Daemon:    running (pid %d)\n", st.PID)
		if st.StartedAt != nil {
			fmt.Fprintf(w, "Started:   %s\n", st.StartedAt.UTC().Format(time.RFC3339))
		}
		fmt.Fprintf(w, "Sink:      %s\n", st.Sink)
		fmt.Fprintf(w, "Presence:  %s\n", st.Presence)
		fmt.Fprintf(w, "Interval:  %ds\n", st.IntervalSec)
	} else if st.PID != 0 {
		fmt.Fprintf(w, "Daemon:    not responding (lock held by pid %d)\n", st.PID)
	} else {
		fmt.Fprintln(w, "Daemon:    stopped")
	}
	fmt.Fprintf(w, "Watermark: %d\n", st.Watermark)

	if st.Running {
		if len(st.Online) == 0 {
			fmt.Fprintln(w, "Online:    none")
		} else {
			fmt.Fprintf(w, "Online:    %s\n", strings.Join(st.Online, ", "))
		}
	}

	if c := st.LastCycle; c != nil {
		fmt.Fprintln(w, "\nLast cycle:")
		fmt.Fprintf(w, "  %-11s %s\n", "id", c.CycleID)
		fmt.Fprintf(w, "  %-11s %s\n", "started", c.StartedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "  %-11s %dms\n", "duration", c.DurationMS)
		fmt.Fprintf(w, "  %-11s %t\n", "fetch_ok", c.FetchOK)
		fmt.Fprintf(w, "  %-11s %d\n", "fetched", c.Fetched)
		fmt.Fprintf(w, "  %-11s %s\n", "dispatched", formatIDs(c.Dispatched))
		fmt.Fprintf(w, "  %-11s %s\n", "deferred", formatIDs(c.Deferred))
		fmt.Fprintf(w, "  %-11s %s\n", "ack", c.Ack)
		if c.SaveError != "" {
			fmt.Fprintf(w, "  %-11s %s\n", "save_error", c.SaveError)
		}
	}

	if len(st.Deferred) == 0 {
		fmt.Fprintln(w, "\nDeferred:  none")
		return
	}
	fmt.Fprintf(w, "\nDeferred (%d):\n", len(st.Deferred))
	fmt.Fprintf(w, "  %8s  %-16s  %-20s  %s\n", "ID", "PLAYER", "PACKAGE", "COMMAND")
	for _, c := range st.Deferred {
		fmt.Fprintf(w, "  %8d  %-16s  %-20s  %s\n", c.ID, c.McName, c.PackageName, c.Command)
	}
}

func formatIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
