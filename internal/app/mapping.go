package app

import (
	"github.com/gagliardetto/solana-go/rpc"

	"sweepbot/internal/config"
	"sweepbot/internal/ledger"
	"sweepbot/internal/notifier"
	"sweepbot/internal/storage"
	"sweepbot/internal/sweep"
	"sweepbot/internal/vanity"
	"sweepbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapNotifierConfig enables the pipeline with defaults when the section is
// omitted.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{Enabled: true}, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapLedgerOptions(cfg *config.Config, log logx.Logger) (ledger.Options, error) {
	l, err := cfg.Ledger.Resolve()
	if err != nil {
		return ledger.Options{}, err
	}
	return ledger.Options{
		Endpoint:      l.RPCURL,
		Commitment:    rpc.CommitmentType(l.Commitment),
		CallTimeout:   l.CallTimeout,
		SkipPreflight: l.SkipPreflight,
		Log:           log,
	}, nil
}

func mapPolicy(cfg *config.Config) (sweep.Policy, error) {
	s, err := cfg.Sweeper.Resolve()
	if err != nil {
		return sweep.Policy{}, err
	}
	p := sweep.Policy{
		FeeBuffer:           s.FeeBuffer,
		IdleDelay:           s.IdleDelay,
		Cooldown:            s.Cooldown,
		TransportBackoff:    s.TransportBackoff,
		TransportBackoffMax: s.TransportBackoffMax,
	}
	if l, err := cfg.Ledger.Resolve(); err == nil {
		// A detached submission may take two RPC round trips.
		p.SubmitTimeout = 2 * l.CallTimeout
	}
	return p, nil
}

func mapVanity(cfg *config.Config) (vanity.Settings, bool, error) {
	v, err := cfg.Vanity.Resolve()
	if err != nil {
		return vanity.Settings{}, false, err
	}
	return vanity.Settings{
		Workers:         v.Workers,
		MaxPrefixLength: v.MaxPrefixLength,
		MaxDuration:     v.MaxDuration,
	}, v.Enabled, nil
}

func mapStorage(cfg *config.Config) (storage.Config, config.Storage, error) {
	s, err := cfg.Storage.Resolve()
	if err != nil {
		return storage.Config{}, s, err
	}
	return storage.Config{Driver: s.Driver, Path: s.Path, BusyTimeout: s.BusyTimeout}, s, nil
}
