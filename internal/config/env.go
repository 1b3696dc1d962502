package config

import (
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultRPCURL is the public mainnet endpoint used when nothing is configured.
const DefaultRPCURL = "https://api.mainnet-beta.solana.com"

// Env holds secrets that should not live in the config file.
// The legacy variable names are honoured as fallbacks.
type Env struct {
	TelegramToken       string `env:"SWEEPBOT_TELEGRAM_TOKEN"`
	LegacyTelegramToken string `env:"NEW_TELEGRAM_BOT_TOKEN"`
	RPCURL              string `env:"SWEEPBOT_RPC_URL"`
	LegacyRPCURL        string `env:"CUSTOM_RPC"`
	LogLevel            string `env:"SWEEPBOT_LOG_LEVEL"`
}

var dotenvOnce sync.Once

// LoadEnv reads .env (if present) once, then parses the process environment.
func LoadEnv() (Env, error) {
	dotenvOnce.Do(func() {
		// A missing .env file is fine.
		_ = godotenv.Load()
	})
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// ApplyEnv overlays environment secrets on cfg and fills the RPC default.
func ApplyEnv(cfg *Config, e Env) {
	if cfg == nil {
		return
	}
	if tok := firstNonEmpty(e.TelegramToken, e.LegacyTelegramToken); tok != "" {
		cfg.Telegram.Token = tok
	}
	if url := firstNonEmpty(e.RPCURL, e.LegacyRPCURL); url != "" {
		cfg.Ledger.RPCURL = url
	}
	if strings.TrimSpace(cfg.Ledger.RPCURL) == "" {
		cfg.Ledger.RPCURL = DefaultRPCURL
	}
	if lvl := strings.TrimSpace(e.LogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
