package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sweepbot/internal/session"
	"sweepbot/internal/sweep"
	"sweepbot/internal/transport/telegram/router"
	"sweepbot/internal/vanity"
	"sweepbot/pkg/logx"
	"sweepbot/pkg/tgui"
)

const historyLimit = 10

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "what this bot does",
			Handle:      a.cmdStart,
		},
		{
			Name:        "sweep",
			Aliases:     []string{"sweeper"},
			Description: "forward everything from a wallet",
			Usage:       "/sweep <private_key> <destination>",
			Access:      router.AccessAllowed,
			Timeout:     10 * time.Second,
			Handle:      a.cmdSweep,
		},
		{
			Name:        "vanity",
			Description: "mine an address with a prefix",
			Usage:       "/vanity <prefix>",
			Access:      router.AccessAllowed,
			Timeout:     10 * time.Second,
			Handle:      a.cmdVanity,
		},
		{
			Name:        "stop",
			Description: "stop all tasks in this chat",
			Handle:      a.cmdStop,
		},
		{
			Name:        "status",
			Description: "show running tasks",
			Handle:      a.cmdStatus,
		},
		{
			Name:        "history",
			Description: "recent sweeps",
			Access:      router.AccessAllowed,
			Timeout:     10 * time.Second,
			Handle:      a.cmdHistory,
		},
	}
}

func (a *App) cmdStart(ctx context.Context, req *router.Request) error {
	text := "👋 <b>Sweeper bot</b>\n" +
		"Watches a wallet and forwards every incoming SOL to your destination. " +
		"Empty token accounts are closed and their rent reclaimed.\n\n" +
		"<code>/sweep &lt;private_key&gt; &lt;destination&gt;</code>\n" +
		"<code>/vanity &lt;prefix&gt;</code>\n" +
		"<code>/stop</code> stops everything running in this chat.\n\n" +
		"⚠️ Only use keys of wallets you control."
	return req.Reply(ctx, text, "HTML")
}

func (a *App) cmdSweep(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, "Usage: <code>/sweep &lt;private_key&gt; &lt;destination&gt;</code>", "HTML")
	}
	// The destination is the last word; a byte-array key may contain spaces.
	n := len(req.Args)
	key, dest := strings.Join(req.Args[:n-1], " "), req.Args[n-1]
	policy := *a.policy.Load()
	w := sweep.NewWorker(sweep.Deps{
		Ledger: a.ledger,
		Notify: a.notif,
		Bus:    a.bus,
		Log:    a.log,
	}, policy, sweep.Request{
		ChatID:      req.Chat.ChatID,
		Key:         key,
		Destination: dest,
	})
	s, err := a.sweeps.Start(req.Chat.ChatID, w.Run)
	if err != nil {
		return req.Reply(ctx, startErrorText(err, "A sweeper"), "")
	}
	req.Logger.Info("sweep session started", logx.String("run_id", s.RunID))
	// The worker confirms activation itself once the key and destination parse.
	return nil
}

func (a *App) cmdVanity(ctx context.Context, req *router.Request) error {
	vs := a.vanity.Load()
	if !vs.enabled {
		return req.Reply(ctx, "Vanity search is disabled on this bot.", "")
	}
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: <code>/vanity &lt;prefix&gt;</code>", "HTML")
	}
	prefix := req.Args[0]
	if err := vanity.ValidatePrefix(prefix, vs.settings.MaxPrefixLength); err != nil {
		return req.Reply(ctx, "❌ "+err.Error(), "")
	}
	w := vanity.NewWorker(vanity.Deps{Notify: a.notif, Bus: a.bus, Log: a.log}, vs.settings, req.Chat.ChatID, prefix)
	s, err := a.vanities.Start(req.Chat.ChatID, w.Run)
	if err != nil {
		return req.Reply(ctx, startErrorText(err, "A vanity search"), "")
	}
	req.Logger.Info("vanity session started", logx.String("run_id", s.RunID))
	return nil
}

func startErrorText(err error, what string) string {
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		return what + " is already running in this chat. Use /stop first."
	case errors.Is(err, session.ErrClosed):
		return "The bot is shutting down, try again later."
	default:
		return "Could not start: " + err.Error()
	}
}

func (a *App) cmdStop(ctx context.Context, req *router.Request) error {
	stopped := session.StopAll(req.Chat.ChatID, a.sweeps, a.vanities)
	if len(stopped) == 0 {
		return req.Reply(ctx, "Nothing running.", "")
	}
	req.Logger.Info("sessions stopped", logx.String("kinds", strings.Join(stopped, ",")))
	return req.Reply(ctx, "🛑 Stopped: "+strings.Join(stopped, ", "), "")
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	var lines []tgui.H
	for _, reg := range []*session.Registry{a.sweeps, a.vanities} {
		v := reg.Status(req.Chat.ChatID)
		if !v.Running {
			continue
		}
		state := v.State
		if v.Stopping {
			state += " (stopping)"
		}
		lines = append(lines,
			tgui.B(reg.Kind())+": "+tgui.Esc(state),
			tgui.Esc(fmt.Sprintf("attempts %d, up %s", v.Attempts, time.Since(v.StartedAt).Round(time.Second))),
		)
		if v.LastError != "" {
			lines = append(lines, "last error: "+tgui.Code(tgui.TruncRunes(v.LastError, 200)))
		}
	}
	if len(lines) == 0 {
		return req.Reply(ctx, "Nothing running.", "")
	}
	return req.Reply(ctx, tgui.Lines(lines...).String(), "HTML")
}

func (a *App) cmdHistory(ctx context.Context, req *router.Request) error {
	if a.store == nil {
		return req.Reply(ctx, "History is disabled on this bot.", "")
	}
	recs, err := a.store.Recent(ctx, req.Chat.ChatID, historyLimit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return req.Reply(ctx, "No sweeps yet.", "")
	}
	lines := []tgui.H{tgui.B("Recent sweeps")}
	for _, r := range recs {
		lines = append(lines, tgui.Esc(fmt.Sprintf("%s %s %s SOL ",
			r.At.UTC().Format("2006-01-02 15:04"), r.Directive, sweep.FormatSOL(r.Lamports)))+tgui.Code(tgui.Middle(r.Signature, 8)))
	}
	return req.Reply(ctx, tgui.Lines(lines...).String(), "HTML")
}
