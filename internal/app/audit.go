package app

import (
	"context"
	"time"

	"sweepbot/internal/eventbus"
	"sweepbot/internal/notifier"
	"sweepbot/internal/session"
	"sweepbot/internal/storage"
	"sweepbot/internal/sweep"
	"sweepbot/pkg/logx"
)

// auditLoop persists sweep receipts and logs the other engine events.
func (a *App) auditLoop(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.handleEvent(c, e)
		}
	}
}

func (a *App) handleEvent(c context.Context, e eventbus.Event) {
	switch d := e.Data.(type) {
	case sweep.Receipt:
		if a.store == nil {
			return
		}
		// Detached so a receipt emitted during shutdown is still written.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c), 5*time.Second)
		defer cancel()
		if err := a.store.Append(ctx, recordOf(d)); err != nil {
			a.log.Warn("audit append failed", logx.Int64("chat_id", d.ChatID), logx.String("sig", d.Signature.String()), logx.Err(err))
		}
	case session.Finished:
		fields := []logx.Field{
			logx.String("kind", d.Kind),
			logx.Int64("chat_id", d.ID),
			logx.String("state", d.State),
			logx.Int64("attempts", d.Attempts),
		}
		if d.Err != nil {
			fields = append(fields, logx.Err(d.Err))
		}
		a.log.Debug("session finished", fields...)
	case notifier.Failure:
		a.log.Debug("notification lost", logx.Int64("chat_id", d.ChatID), logx.Int("attempts", d.Attempts))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func recordOf(r sweep.Receipt) storage.Record {
	return storage.Record{
		At:          r.At,
		ChatID:      r.ChatID,
		RunID:       r.RunID,
		Directive:   r.Directive.String(),
		Lamports:    r.Lamports,
		Signature:   r.Signature.String(),
		Source:      r.Source.String(),
		Destination: r.Destination.String(),
	}
}
