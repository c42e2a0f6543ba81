package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/model"
	yamlutil "github.com/msageha/storebridge/internal/yaml"
)

// MetricsHandler folds cycle reports into state/metrics.yaml and renders dashboard.md.
type MetricsHandler struct {
	mu      sync.Mutex
	dataDir string
	logger  *logging.Logger
	now     func() time.Time
}

func NewMetricsHandler(dataDir string, logger *logging.Logger) *MetricsHandler {
	return &MetricsHandler{dataDir: dataDir, logger: logger, now: time.Now}
}

func (mh *MetricsHandler) metricsPath() string {
	return filepath.Join(mh.dataDir, "state", "metrics.yaml")
}

// Load reads the current metrics file. A missing or foreign file yields fresh metrics.
func (mh *MetricsHandler) Load() model.Metrics {
	fresh := model.Metrics{SchemaVersion: yamlutil.CurrentSchemaVersion, FileType: yamlutil.FileTypeMetrics}

	data, err := os.ReadFile(mh.metricsPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			mh.logger.Warnf("read metrics: %v", err)
		}
		return fresh
	}
	if err := yamlutil.ValidateSchemaHeaderFromBytes(data, yamlutil.FileTypeMetrics); err != nil {
		mh.logger.Warnf("metrics header rejected, starting over: %v", err)
		return fresh
	}
	var m model.Metrics
	if err := yamlv3.Unmarshal(data, &m); err != nil {
		mh.logger.Warnf("parse metrics: %v", err)
		return fresh
	}
	return m
}

// UpdateMetrics merges one cycle into the counters and rewrites metrics.yaml.
func (mh *MetricsHandler) UpdateMetrics(report CycleReport, status WatcherStatus) error {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(mh.metricsPath()), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	metrics := mh.Load()
	metrics.Counters.Cycles++
	if !report.FetchOK {
		metrics.Counters.FetchFailures++
	}
	metrics.Counters.CommandsDispatched += len(report.Dispatched)
	metrics.Counters.CommandsDeferred += len(report.Deferred)
	if report.Ack == model.AckFailed {
		metrics.Counters.AckFailures++
	}
	if report.SaveErr != nil {
		metrics.Counters.StateSaveFailures++
	}

	metrics.DeferredDepth = len(status.Deferred)
	metrics.Watermark = status.Watermark

	heartbeat := report.StartedAt.UTC().Format(time.RFC3339)
	metrics.DaemonHeartbeat = &heartbeat
	now := mh.now().UTC().Format(time.RFC3339)
	metrics.UpdatedAt = &now

	return yamlutil.AtomicWrite(mh.metricsPath(), metrics)
}

// UpdateDashboard writes a markdown summary of the reconciler state to dashboard.md.
func (mh *MetricsHandler) UpdateDashboard(report CycleReport, status WatcherStatus) error {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("# StoreBridge\n\n")
	sb.WriteString(fmt.Sprintf("Updated: %s\n\n", mh.now().UTC().Format(time.RFC3339)))

	sb.WriteString("## Last Cycle\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|------:|\n")
	sb.WriteString(fmt.Sprintf("| cycle | `%s` |\n", report.CycleID))
	sb.WriteString(fmt.Sprintf("| fetch_ok | %t |\n", report.FetchOK))
	sb.WriteString(fmt.Sprintf("| fetched | %d |\n", report.Fetched))
	sb.WriteString(fmt.Sprintf("| dispatched | %d |\n", len(report.Dispatched)))
	sb.WriteString(fmt.Sprintf("| deferred | %d |\n", len(report.Deferred)))
	sb.WriteString(fmt.Sprintf("| ack | %s |\n", report.Ack))
	sb.WriteString(fmt.Sprintf("| watermark | %d |\n", status.Watermark))

	sb.WriteString("\n## Waiting For Players\n\n")
	if len(status.Deferred) == 0 {
		sb.WriteString("_Nothing deferred_\n")
	}
	for _, c := range status.Deferred {
		sb.WriteString(fmt.Sprintf("- `%d` %s (%s)\n", c.ID, c.McName, c.PackageName))
	}

	return atomicWriteText(filepath.Join(mh.dataDir, "dashboard.md"), sb.String())
}

// atomicWriteText writes raw text to a file using temp+rename for atomicity.
func atomicWriteText(path string, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".storebridge-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
