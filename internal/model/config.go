package model

type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Watcher WatcherConfig `yaml:"watcher"`
	Host    HostConfig    `yaml:"host"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
}

type StoreConfig struct {
	Token      string `yaml:"token"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type WatcherConfig struct {
	IntervalSec int `yaml:"interval_sec"`
	// InitialDelaySec is a pointer so an explicit 0 survives defaulting.
	InitialDelaySec *int `yaml:"initial_delay_sec"`
}

type HostConfig struct {
	Sink       string     `yaml:"sink"`     // tmux | rcon | log
	Presence   string     `yaml:"presence"` // file | rcon
	RosterPath string     `yaml:"roster_path"`
	Tmux       TmuxConfig `yaml:"tmux"`
	RCON       RCONConfig `yaml:"rcon"`
}

type TmuxConfig struct {
	Target string `yaml:"target"`
}

type RCONConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}
