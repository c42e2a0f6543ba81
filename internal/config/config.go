// Package config loads and validates <data>/config.yaml.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/storebridge/internal/model"
)

//go:embed schema.cue
var schemaCUE string

const FileName = "config.yaml"

const (
	DefaultBaseURL            = "https://api.craftingstore.net"
	DefaultTimeoutSec         = 10
	DefaultIntervalSec        = 30
	DefaultInitialDelaySec    = 30
	DefaultShutdownTimeoutSec = 30
	DefaultRCONTimeoutSec     = 5
	DefaultSink               = "log"
	DefaultPresence           = "file"
	DefaultRosterFile         = "roster.txt"
	DefaultLedgerFile         = "ledger.db"
	DefaultLogLevel           = "info"
)

// ValidationError lists every schema or consistency problem found in a config file.
type ValidationError struct {
	Path    string
	Details string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s:\n%s", e.Path, e.Details)
}

// Load reads <dataDir>/config.yaml, validates it and fills in defaults.
// Relative paths in the file are resolved against dataDir.
func Load(dataDir string) (model.Config, error) {
	path := filepath.Join(dataDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("read %s: %w", FileName, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			vErr.Path = path
		}
		return model.Config{}, err
	}
	ApplyDefaults(&cfg, dataDir)
	return cfg, nil
}

// Parse validates raw YAML against the schema and decodes it. Defaults are not applied.
func Parse(data []byte) (model.Config, error) {
	var raw map[string]any
	if err := yamlv3.Unmarshal(data, &raw); err != nil {
		return model.Config{}, fmt.Errorf("parse %s: %w", FileName, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateSchema(raw); err != nil {
		return model.Config{}, err
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("decode %s: %w", FileName, err)
	}
	if err := checkConsistency(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

func validateSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Path: FileName, Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// checkConsistency covers rules that span fields.
func checkConsistency(cfg model.Config) error {
	var problems []string
	if strings.TrimSpace(cfg.Store.Token) == "" {
		problems = append(problems, "store.token: required")
	}
	usesRCON := cfg.Host.Sink == "rcon" || cfg.Host.Presence == "rcon"
	if usesRCON && cfg.Host.RCON.Address == "" {
		problems = append(problems, "host.rcon.address: required when sink or presence is rcon")
	}
	if cfg.Host.Sink == "tmux" && cfg.Host.Tmux.Target == "" {
		problems = append(problems, "host.tmux.target: required when sink is tmux")
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Path: FileName, Details: strings.Join(problems, "\n")}
}

// ApplyDefaults fills zero values and makes file paths absolute under dataDir.
func ApplyDefaults(cfg *model.Config, dataDir string) {
	if cfg.Store.BaseURL == "" {
		cfg.Store.BaseURL = DefaultBaseURL
	}
	if cfg.Store.TimeoutSec <= 0 {
		cfg.Store.TimeoutSec = DefaultTimeoutSec
	}
	if cfg.Watcher.IntervalSec <= 0 {
		cfg.Watcher.IntervalSec = DefaultIntervalSec
	}
	if cfg.Watcher.InitialDelaySec == nil {
		d := DefaultInitialDelaySec
		cfg.Watcher.InitialDelaySec = &d
	}
	if cfg.Host.Sink == "" {
		cfg.Host.Sink = DefaultSink
	}
	if cfg.Host.Presence == "" {
		cfg.Host.Presence = DefaultPresence
	}
	if cfg.Host.RosterPath == "" {
		cfg.Host.RosterPath = DefaultRosterFile
	}
	cfg.Host.RosterPath = resolve(dataDir, cfg.Host.RosterPath)
	if cfg.Host.RCON.TimeoutSec <= 0 {
		cfg.Host.RCON.TimeoutSec = DefaultRCONTimeoutSec
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = DefaultLedgerFile
	}
	cfg.Ledger.Path = resolve(dataDir, cfg.Ledger.Path)
	if cfg.Daemon.ShutdownTimeoutSec <= 0 {
		cfg.Daemon.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
}

func resolve(dataDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}
