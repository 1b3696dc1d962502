// Package app wires configuration, the ledger client, the Telegram
// transport and the session registries into a running bot.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"sweepbot/internal/config"
	"sweepbot/internal/eventbus"
	"sweepbot/internal/ledger"
	"sweepbot/internal/notifier"
	"sweepbot/internal/runtime/supervisor"
	"sweepbot/internal/session"
	"sweepbot/internal/storage"
	"sweepbot/internal/sweep"
	"sweepbot/internal/transport"
	telegram "sweepbot/internal/transport/telegram/adapter"
	"sweepbot/internal/transport/telegram/router"
	"sweepbot/internal/vanity"
	"sweepbot/pkg/logx"
)

type vanityState struct {
	settings vanity.Settings
	enabled  bool
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	prune *storage.Retention

	rpc     *ledger.RPC
	ledger  ledger.Client
	adapter transport.Adapter
	notif   *notifier.Service
	router  *router.Manager

	sweeps   *session.Registry
	vanities *session.Registry

	// Read when a session starts; running sessions keep what they got.
	policy atomic.Pointer[sweep.Policy]
	vanity atomic.Pointer[vanityState]

	updates chan transport.Message
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(config.Validate)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, log)
	if err != nil {
		return nil, err
	}

	lopts, err := mapLedgerOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	rpcClient := ledger.NewRPC(lopts)

	bus := eventbus.New()

	sc, sres, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	prune, err := storage.NewRetention(store, sres.Retention, sres.PruneSchedule, log)
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		prune:   prune,
		rpc:     rpcClient,
		ledger:  rpcClient,
		adapter: ad,
		notif:   notifier.New(ncfg, ad, log, bus),
		router:  router.New(log, ad),
		updates: make(chan transport.Message, 256),
	}
	if err := a.applySessionConfig(cfg); err != nil {
		return nil, err
	}
	a.router.SetAllowed(cfg.Telegram.AllowedUserIDs)
	a.log.Info("configured",
		logx.String("rpc", redactURL(lopts.Endpoint)),
		logx.String("commitment", string(lopts.Commitment)),
		logx.Bool("storage", store != nil),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) applySessionConfig(cfg *config.Config) error {
	p, err := mapPolicy(cfg)
	if err != nil {
		return err
	}
	vs, enabled, err := mapVanity(cfg)
	if err != nil {
		return err
	}
	a.policy.Store(&p)
	a.vanity.Store(&vanityState{settings: vs, enabled: enabled})
	return nil
}

func (a *App) startSessions(ctx context.Context) {
	a.sweeps = session.New(ctx, "sweep", session.WithLogger(a.log), session.WithBus(a.bus))
	a.vanities = session.New(ctx, "vanity", session.WithLogger(a.log), session.WithBus(a.bus))
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.startSessions(runCtx)
	a.router.Register(a.commands()...)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}

	a.notif.Start(runCtx)
	a.prune.Start()

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("eventbus.audit", a.auditLoop)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyReload(c, last, newCfg)
			last = newCfg
		}
	}
}

func (a *App) applyReload(c context.Context, prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage", "ledger":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		case "telegram":
			if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
				a.log.Warn("telegram connection settings changed; restart required")
			}
		}
	}

	a.logs.Apply(mapLogConfig(next))
	a.router.SetAllowed(next.Telegram.AllowedUserIDs)

	if err := a.applySessionConfig(next); err != nil {
		a.log.Warn("invalid session config; keeping previous", logx.Err(err))
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prevCfg, _ := mapNotifierConfig(prev)
		a.notif.Apply(ncfg)
		switch {
		case prevCfg.Enabled && !ncfg.Enabled:
			a.log.Info("notifier queue disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevCfg.Enabled && ncfg.Enabled:
			a.log.Info("notifier queue enabled via config")
			a.notif.Start(c)
		}
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Each step gets an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Stop intake first so no session starts during teardown.
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("sessions", 5*time.Second, func(c context.Context) error {
		sweepErr := a.sweeps.Shutdown(c)
		vanityErr := a.vanities.Shutdown(c)
		if sweepErr != nil {
			return sweepErr
		}
		return vanityErr
	})
	// Workers report their final state through the notifier; drain it after.
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("retention", time.Second, func(c context.Context) error { a.prune.Stop(c); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("ledger", time.Second, func(context.Context) error {
		if a.rpc != nil {
			return a.rpc.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// redactURL keeps the scheme and host; API keys often live in the path or query.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return "***"
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, "?")
	return scheme + "://" + host
}
