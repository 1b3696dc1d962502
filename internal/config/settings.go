package config

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults.
const (
	DefaultFeeBufferLamports   = 5000
	DefaultIdleDelay           = time.Second
	DefaultCooldown            = 10 * time.Second
	DefaultTransportBackoff    = 2 * time.Second
	DefaultTransportBackoffMax = 30 * time.Second
	DefaultCallTimeout         = 15 * time.Second
	DefaultPollTimeout         = 10 * time.Second
	DefaultMaxPrefixLength     = 6
	DefaultPruneSchedule       = "@daily"
)

// Sweeper is the resolved form of SweeperConfig.
type Sweeper struct {
	FeeBuffer           uint64
	IdleDelay           time.Duration
	Cooldown            time.Duration
	TransportBackoff    time.Duration
	TransportBackoffMax time.Duration
}

func (c SweeperConfig) Resolve() (Sweeper, error) {
	var (
		s   Sweeper
		err error
	)
	s.FeeBuffer = c.FeeBufferLamports
	if s.FeeBuffer == 0 {
		s.FeeBuffer = DefaultFeeBufferLamports
	}
	if s.IdleDelay, err = ParseDurationOrDefault("sweeper.idle_delay", c.IdleDelay, DefaultIdleDelay); err != nil {
		return s, err
	}
	if s.Cooldown, err = ParseDurationOrDefault("sweeper.cooldown", c.Cooldown, DefaultCooldown); err != nil {
		return s, err
	}
	if s.TransportBackoff, err = ParseDurationOrDefault("sweeper.transport_backoff", c.TransportBackoff, DefaultTransportBackoff); err != nil {
		return s, err
	}
	if s.TransportBackoffMax, err = ParseDurationOrDefault("sweeper.transport_backoff_max", c.TransportBackoffMax, DefaultTransportBackoffMax); err != nil {
		return s, err
	}
	if s.TransportBackoffMax < s.TransportBackoff {
		s.TransportBackoffMax = s.TransportBackoff
	}
	return s, nil
}

// Ledger is the resolved form of LedgerConfig.
type Ledger struct {
	RPCURL        string
	Commitment    string
	CallTimeout   time.Duration
	SkipPreflight bool
}

func (c LedgerConfig) Resolve() (Ledger, error) {
	l := Ledger{
		RPCURL:        strings.TrimSpace(c.RPCURL),
		Commitment:    strings.ToLower(strings.TrimSpace(c.Commitment)),
		SkipPreflight: c.SkipPreflight,
	}
	if l.RPCURL == "" {
		l.RPCURL = DefaultRPCURL
	}
	switch l.Commitment {
	case "":
		l.Commitment = "confirmed"
	case "processed", "confirmed", "finalized":
	default:
		return l, fmt.Errorf("ledger.commitment: unknown value %q", c.Commitment)
	}
	var err error
	if l.CallTimeout, err = ParseDurationOrDefault("ledger.call_timeout", c.CallTimeout, DefaultCallTimeout); err != nil {
		return l, err
	}
	return l, nil
}

// Vanity is the resolved form of VanityConfig.
type Vanity struct {
	Enabled         bool
	Workers         int
	MaxPrefixLength int
	MaxDuration     time.Duration
}

func (c VanityConfig) Resolve() (Vanity, error) {
	v := Vanity{Enabled: c.Enabled, Workers: c.Workers, MaxPrefixLength: c.MaxPrefixLength}
	if v.Workers <= 0 {
		v.Workers = runtime.NumCPU()
	}
	if v.MaxPrefixLength <= 0 {
		v.MaxPrefixLength = DefaultMaxPrefixLength
	}
	var err error
	if v.MaxDuration, err = ParseDurationField("vanity.max_duration", c.MaxDuration); err != nil {
		return v, err
	}
	return v, nil
}

// Storage is the resolved form of StorageConfig. A zero Driver means the
// audit trail is disabled.
type Storage struct {
	Driver        string
	Path          string
	BusyTimeout   time.Duration
	Retention     time.Duration
	PruneSchedule string
}

func (c *StorageConfig) Resolve() (Storage, error) {
	if c == nil {
		return Storage{}, nil
	}
	s := Storage{
		Driver:        strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:          strings.TrimSpace(c.Path),
		PruneSchedule: strings.TrimSpace(c.PruneSchedule),
	}
	switch s.Driver {
	case "", "none":
		return Storage{}, nil
	case "file", "sqlite":
	default:
		return s, fmt.Errorf("storage.driver: unknown driver %q", c.Driver)
	}
	if s.Path == "" {
		return s, errors.New("storage.path is required")
	}
	var err error
	if s.BusyTimeout, err = ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 5*time.Second); err != nil {
		return s, err
	}
	if s.Retention, err = ParseDurationField("storage.retention", c.Retention); err != nil {
		return s, err
	}
	if s.PruneSchedule == "" {
		s.PruneSchedule = DefaultPruneSchedule
	}
	if _, err := cron.ParseStandard(s.PruneSchedule); err != nil {
		return s, fmt.Errorf("storage.prune_schedule: %w", err)
	}
	return s, nil
}

// Validate checks every section. It is used both on startup and as the
// reload validator.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set SWEEPBOT_TELEGRAM_TOKEN)"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Ledger.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Sweeper.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Vanity.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Storage.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if n := cfg.Notifier; n != nil {
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", n.RetryBase},
			{"notifier.retry_max_delay", n.RetryMaxDelay},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ChangedSections lists the top-level sections that differ between a and b.
func ChangedSections(a, b *Config) []string {
	if a == nil || b == nil {
		return nil
	}
	var out []string
	add := func(name string, x, y any) {
		if hashAny(x) != hashAny(y) {
			out = append(out, name)
		}
	}
	add("telegram", a.Telegram, b.Telegram)
	add("logging", a.Logging, b.Logging)
	add("ledger", a.Ledger, b.Ledger)
	add("sweeper", a.Sweeper, b.Sweeper)
	add("vanity", a.Vanity, b.Vanity)
	add("notifier", a.Notifier, b.Notifier)
	add("storage", a.Storage, b.Storage)
	return out
}
