package vanity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"sweepbot/internal/eventbus"
	"sweepbot/internal/session"
	"sweepbot/pkg/logx"
	"sweepbot/pkg/tgui"
)

// Notifier delivers a message to a chat.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text, format string) error
}

// Found is published as eventbus.VanityFound. It never carries the secret.
type Found struct {
	ChatID   int64
	RunID    string
	Prefix   string
	Address  solana.PublicKey
	Attempts uint64
	Elapsed  time.Duration
}

type Settings struct {
	Workers         int
	MaxPrefixLength int
	// MaxDuration gives up after this long; zero means until stopped.
	MaxDuration time.Duration
}

type Deps struct {
	Notify Notifier
	Bus    eventbus.Bus
	Log    logx.Logger
}

// Worker runs one search as a session.
type Worker struct {
	deps   Deps
	set    Settings
	chatID int64
	prefix string
	log    logx.Logger

	newKey func() (solana.PrivateKey, error)
}

func NewWorker(deps Deps, set Settings, chatID int64, prefix string) *Worker {
	return &Worker{
		deps:   deps,
		set:    set,
		chatID: chatID,
		prefix: prefix,
		log:    deps.Log.With(logx.String("comp", "vanity"), logx.Int64("chat_id", chatID), logx.String("prefix", prefix)),
	}
}

// Run is a session.RunFunc.
func (w *Worker) Run(ctx context.Context, s *session.Session) error {
	if err := ValidatePrefix(w.prefix, w.set.MaxPrefixLength); err != nil {
		s.SetState("stopped")
		w.notify(ctx, "❌ "+tgui.Esc(err.Error()).String())
		return err
	}

	s.SetState("grinding")
	w.notify(ctx, fmt.Sprintf("🔨 <b>Mining vanity address...</b>\nPrefix: <code>%s</code>\n(~%.0f keys expected, this may take time)",
		w.prefix, ExpectedAttempts(w.prefix)))

	gctx := ctx
	if w.set.MaxDuration > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, w.set.MaxDuration)
		defer cancel()
	}

	res, err := Grind(gctx, w.prefix, Options{
		Workers:  w.set.Workers,
		Progress: func(n uint64) { s.AddAttempts(int64(n)) },
		newKey:   w.newKey,
	})
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.SetState("timed out")
		w.log.Info("vanity search timed out", logx.Uint64("attempts", res.Attempts))
		w.notify(ctx, fmt.Sprintf("⌛ No match for <code>%s</code> after %s (%d keys).", w.prefix, res.Elapsed.Round(time.Second), res.Attempts))
		return nil
	case ctx.Err() != nil:
		s.SetState("stopped")
		w.log.Info("vanity search stopped", logx.Uint64("attempts", res.Attempts))
		return nil
	default:
		s.SetState("stopped")
		return err
	}

	s.SetState("found")
	w.log.Info("vanity address found",
		logx.String("address", res.Address.String()),
		logx.Uint64("attempts", res.Attempts),
		logx.Duration("elapsed", res.Elapsed),
	)
	if w.deps.Bus != nil {
		w.deps.Bus.Publish(eventbus.Event{Type: eventbus.VanityFound, Data: Found{
			ChatID: w.chatID, RunID: s.RunID, Prefix: w.prefix,
			Address: res.Address, Attempts: res.Attempts, Elapsed: res.Elapsed,
		}})
	}
	w.notify(context.WithoutCancel(ctx), tgui.Lines(
		"💎 "+tgui.B("Found!"),
		"Address: "+tgui.Code(res.Address.String()),
		"Private key: "+tgui.Spoiler(tgui.Code(res.Key.String())),
		tgui.Esc(fmt.Sprintf("Took %s, %d keys.", res.Elapsed.Round(time.Millisecond), res.Attempts)),
	).String())
	return nil
}

func (w *Worker) notify(ctx context.Context, text string) {
	if w.deps.Notify == nil {
		return
	}
	if err := w.deps.Notify.Send(ctx, w.chatID, text, "HTML"); err != nil {
		w.log.Warn("notify failed", logx.Err(err))
	}
}
