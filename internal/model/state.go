package model

// DataFile is the on-disk shape of data.yml. Pending holds encoded Commands.
type DataFile struct {
	LastID  int64    `yaml:"lastID"`
	Pending []string `yaml:"pending"`
}

type Metrics struct {
	SchemaVersion   int             `yaml:"schema_version"`
	FileType        string          `yaml:"file_type"`
	Counters        MetricsCounters `yaml:"counters"`
	DeferredDepth   int             `yaml:"deferred_depth"`
	Watermark       int64           `yaml:"watermark"`
	DaemonHeartbeat *string         `yaml:"daemon_heartbeat"`
	UpdatedAt       *string         `yaml:"updated_at"`
}

type MetricsCounters struct {
	Cycles             int `yaml:"cycles"`
	FetchFailures      int `yaml:"fetch_failures"`
	CommandsDispatched int `yaml:"commands_dispatched"`
	CommandsDeferred   int `yaml:"commands_deferred"`
	AckFailures        int `yaml:"ack_failures"`
	StateSaveFailures  int `yaml:"state_save_failures"`
}
