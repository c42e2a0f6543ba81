package model

import "time"

// AckResult is the outcome of acknowledging one cycle's batch.
type AckResult string

const (
	AckNone   AckResult = "none"
	AckOK     AckResult = "ok"
	AckFailed AckResult = "failed"
)

// CycleSummary is the wire form of one reconciler cycle.
type CycleSummary struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	FetchOK    bool      `json:"fetch_ok"`
	Fetched    int       `json:"fetched"`
	Dispatched []int64   `json:"dispatched,omitempty"`
	Deferred   []int64   `json:"deferred,omitempty"`
	Ack        AckResult `json:"ack"`
	SaveError  string    `json:"save_error,omitempty"`
}

// DaemonStatus is what the status command reports.
type DaemonStatus struct {
	Running     bool          `json:"running"`
	PID         int           `json:"pid,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	Sink        string        `json:"sink,omitempty"`
	Presence    string        `json:"presence,omitempty"`
	IntervalSec int           `json:"interval_sec,omitempty"`
	Watermark   int64         `json:"watermark"`
	Deferred    []Command     `json:"deferred"`
	Online      []string      `json:"online,omitempty"`
	LastCycle   *CycleSummary `json:"last_cycle,omitempty"`
}

// PreviewEntry is how the next cycle would treat one queued command.
type PreviewEntry struct {
	ID     int64  `json:"id"`
	Target string `json:"target,omitempty"`
	Action string `json:"action"` // dispatch | defer | waiting | skip
}
