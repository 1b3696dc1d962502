package config

// Config is the on-disk configuration (JSON or YAML).
//
// Secrets (bot token, RPC URL with API key) are usually supplied through the
// environment instead; see ApplyEnv.
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Ledger   LedgerConfig    `json:"ledger"`
	Sweeper  SweeperConfig   `json:"sweeper"`
	Vanity   VanityConfig    `json:"vanity"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AllowedUserIDs restricts who may start sessions. Empty means everyone.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LedgerConfig points at the Solana JSON-RPC node.
type LedgerConfig struct {
	RPCURL string `json:"rpc_url"`
	// Commitment is one of processed, confirmed, finalized (default confirmed).
	Commitment string `json:"commitment,omitempty"`
	// CallTimeout bounds every RPC call (default "15s").
	CallTimeout   string `json:"call_timeout,omitempty"`
	SkipPreflight bool   `json:"skip_preflight,omitempty"`
}

// SweeperConfig holds the polling policy. All durations are Go duration strings.
//
// Defaults (when omitted):
//   - fee_buffer_lamports: 5000
//   - idle_delay: "1s"
//   - cooldown: "10s"
//   - transport_backoff: "2s"
//   - transport_backoff_max: "30s"
type SweeperConfig struct {
	FeeBufferLamports   uint64 `json:"fee_buffer_lamports,omitempty"`
	IdleDelay           string `json:"idle_delay,omitempty"`
	Cooldown            string `json:"cooldown,omitempty"`
	TransportBackoff    string `json:"transport_backoff,omitempty"`
	TransportBackoffMax string `json:"transport_backoff_max,omitempty"`
}

type VanityConfig struct {
	Enabled bool `json:"enabled"`
	// Workers is the number of grinding goroutines per session (default NumCPU).
	Workers         int `json:"workers,omitempty"`
	MaxPrefixLength int `json:"max_prefix_length,omitempty"`
	// MaxDuration gives up a search after this long ("0s" disables).
	MaxDuration string `json:"max_duration,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// If the whole section is omitted the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// StorageConfig controls the optional sweep audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/sweepbot.db", "retention": "720h", "prune_schedule": "0 4 * * *" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// Retention drops audit records older than this ("0s" keeps everything).
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec for retention pruning (default "@daily").
	PruneSchedule string `json:"prune_schedule,omitempty"`
}
