// Package app wires the monitor together: config, logging, storage, the ESI
// session, the Telegram channel, the dispatch queue, the poller, metrics and
// the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"structwatch/internal/config"
	"structwatch/internal/dispatch"
	"structwatch/internal/esi"
	"structwatch/internal/eventbus"
	"structwatch/internal/httpapi"
	"structwatch/internal/metrics"
	"structwatch/internal/monitor"
	"structwatch/internal/poller"
	"structwatch/internal/runtime/supervisor"
	"structwatch/internal/storage"
	"structwatch/internal/transport/telegram/adapter"
	logx "structwatch/pkg/logx"
)

type App struct {
	cfgm     *config.Manager
	settings config.Settings
	started  time.Time

	sup *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	session *esi.Session
	adapter *adapter.Adapter
	queue   *dispatch.Queue
	poller  *poller.Service
	metrics *metrics.Collector
	http    *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	st, err := cfg.Resolve()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := adapter.New(st.Telegram, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(st.Logging, ad)
	logSvc.SetTelegramTarget(st.LogChat.ChatID, st.LogChat.ThreadID)
	log = log.With(logx.String("comp", "app"))

	store, err := storage.Open(st.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	session := esi.NewSession(st.ESI, store, nil, log.With(logx.String("comp", "esi.session")))
	client := esi.NewClient(st.ESI, session, nil, log.With(logx.String("comp", "esi")))
	queue := dispatch.New(st.Dispatch, ad, store, bus, log.With(logx.String("comp", "dispatch")))
	tracker := monitor.NewEventTracker(store, log.With(logx.String("comp", "dedup")))

	pl := poller.New(st.Poll, poller.Deps{
		Structures:    client,
		Notifications: client,
		Session:       session,
		Store:         store,
		Tracker:       tracker,
		Out:           queue,
		Bus:           bus,
	}, log.With(logx.String("comp", "poller")))

	mc := metrics.New(log.With(logx.String("comp", "metrics")))

	a := &App{
		cfgm:     cfgm,
		settings: st,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		session:  session,
		adapter:  ad,
		queue:    queue,
		poller:   pl,
		metrics:  mc,
	}
	a.http = httpapi.New(st.HTTP, httpapi.Deps{
		Auth:    session,
		Metrics: mc.Handler(),
		Status:  func() any { return a.Status() },
	}, log.With(logx.String("comp", "http")))
	ad.SetStatus(a.statusHTML)
	return a, nil
}

// Done is closed when the app supervisor is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.session.Restore(a.sup.Context()); err != nil {
		a.log.Warn("stored credentials unusable; log in through /auth", logx.Err(err))
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := cfg.Resolve()
		return err
	})

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("dispatch.ready", func(c context.Context) error {
		err := a.queue.FlushWhenReady(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// The poller only fails when credentials never arrive; keep waiting.
	a.sup.GoRestart("poller", a.poller.Run, supervisor.WithRestartBackoff(5*time.Second, time.Minute))

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	// A listener that keeps failing (port taken) stops the process.
	a.sup.GoRestart("http", a.http.Serve,
		supervisor.WithRestartBackoff(time.Second, 10*time.Second),
		supervisor.WithMaxRestarts(3),
		supervisor.WithFatalOnGiveUp(true))

	a.sup.Go0("config.reload", a.followConfig)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int64("corporation_id", a.settings.ESI.CorporationID),
		logx.String("http", a.settings.HTTP.Addr),
		logx.String("storage", a.settings.Storage.Driver))
	return nil
}

// followConfig applies logging changes live. Everything else needs a restart.
func (a *App) followConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeChange(last, next)
			last = next
			if len(changed) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}
			st, err := next.Resolve()
			if err != nil {
				a.log.Warn("config reload ignored", logx.Err(err))
				continue
			}
			a.logs.SetTelegramTarget(st.LogChat.ChatID, st.LogChat.ThreadID)
			a.logs.Apply(st.Logging)

			fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			if rr := config.RestartRequired(changed); len(rr) > 0 {
				a.log.Warn("config sections changed; restart required", logx.String("sections", strings.Join(rr, ",")))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := a.stepper(ctx)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
