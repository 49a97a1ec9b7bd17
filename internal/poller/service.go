// Package poller drives the two ESI poll loops: the full cycle (structures,
// diff, rolling list, then notifications) and the notification-only cycle.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"structwatch/internal/esi"
	"structwatch/internal/eventbus"
	"structwatch/internal/model"
	"structwatch/internal/monitor"
	"structwatch/internal/render"
	"structwatch/internal/transport"
	logx "structwatch/pkg/logx"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Structures    StructureSource
	Notifications NotificationSource
	Session       Session
	Store         SnapshotStore
	Tracker       Tracker
	Out           Dispatcher
	Bus           eventbus.Bus
}

type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	// One cycle of each kind at a time; overlapping ticks are skipped.
	fullMu  sync.Mutex
	eventMu sync.Mutex

	mu     sync.Mutex
	status Status
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		log:    log,
		now:    time.Now,
		status: Status{Phase: PhaseUninitialized},
	}
}

// Status returns a copy of the current status.
func (s *Service) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	if s.deps.Session != nil {
		st.NextAvailable = s.deps.Session.NextAvailable()
	}
	return st
}

func (s *Service) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

// Run waits for credentials, runs one full cycle immediately and then
// polls on the configured intervals until ctx ends. It returns
// esi.ErrCredentialsTimeout when credentials never arrive, so a supervisor
// can restart the wait.
func (s *Service) Run(ctx context.Context) error {
	s.update(func(st *Status) { st.Phase = PhaseAwaitingCredentials })
	err := s.deps.Session.WaitReady(ctx, s.cfg.CredentialWaitInterval, s.cfg.CredentialWaitAttempts)
	if err != nil {
		if errors.Is(err, esi.ErrCredentialsTimeout) {
			s.log.Error("no esi credentials; log in through /auth", logx.Int("attempts", s.cfg.CredentialWaitAttempts))
		}
		return err
	}
	s.update(func(st *Status) { st.Phase = PhasePolling })
	s.log.Info("polling started",
		logx.Duration("full_interval", s.cfg.FullInterval),
		logx.Duration("event_interval", s.cfg.EventInterval))

	s.FullCycle(ctx)

	cl := cronLogger{log: s.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	c.Schedule(cron.Every(s.cfg.FullInterval), cron.FuncJob(func() { s.tickFull(ctx) }))
	c.Schedule(cron.Every(s.cfg.EventInterval), cron.FuncJob(func() { s.EventCycle(ctx) }))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("polling stopped")
	return ctx.Err()
}

// tickFull runs a full cycle unless the last structure response is still
// cached upstream.
func (s *Service) tickFull(ctx context.Context) {
	if next := s.deps.Session.NextAvailable(); s.now().Before(next) {
		s.log.Debug("structure data still cached; skipping", logx.Time("next_available", next))
		return
	}
	s.FullCycle(ctx)
}

// FullCycle polls structures and then notifications.
func (s *Service) FullCycle(ctx context.Context) {
	if !s.fullMu.TryLock() {
		s.log.Debug("full cycle already running; skipping")
		return
	}
	defer s.fullMu.Unlock()

	log := s.log.With(logx.String("cycle", uuid.NewString()), logx.String("kind", "full"))
	started := s.now()
	if err := s.pollStructures(ctx, log); err != nil {
		s.fail("structures", err)
		log.Warn("structure poll aborted", logx.Err(err))
	} else {
		log.Debug("structure poll done", logx.Duration("took", s.now().Sub(started)))
	}
	s.EventCycle(ctx)
}

// EventCycle polls notifications and alerts the unseen ones.
func (s *Service) EventCycle(ctx context.Context) {
	if !s.eventMu.TryLock() {
		s.log.Debug("event cycle already running; skipping")
		return
	}
	defer s.eventMu.Unlock()

	log := s.log.With(logx.String("cycle", uuid.NewString()), logx.String("kind", "event"))
	if err := s.pollNotifications(ctx, log); err != nil {
		s.fail("notifications", err)
		log.Warn("notification poll aborted", logx.Err(err))
	}
}

func (s *Service) pollStructures(ctx context.Context, log logx.Logger) error {
	cur, err := s.deps.Structures.Structures(ctx)
	if err != nil {
		return err
	}
	if len(cur) == 0 {
		return ErrEmptyFetch
	}

	old, ok, err := s.deps.Store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	now := s.now()
	alerts := monitor.Diff(old, cur, !ok, now)
	snap := model.NewSnapshot(now, cur)

	if ok {
		for id, gone := range old.Structures {
			if _, still := snap.Lookup(id); !still {
				log.Debug("structure no longer reported", logx.Structure(id, gone.Name))
			}
		}
	}

	// The snapshot is saved before anything is dispatched; a failed send
	// never rolls it back.
	if err := s.deps.Store.SaveSnapshot(ctx, now, cur); err != nil {
		log.Error("save snapshot failed", logx.Err(err))
	}

	cards := make([]transport.Card, 0, len(alerts))
	for _, a := range alerts {
		if c := render.Alert(a, snap, now); c != nil {
			cards = append(cards, *c)
		}
	}
	if err := s.deps.Out.Enqueue(ctx, s.cfg.AlertTarget, cards, s.cfg.AlertPrefix); err != nil {
		log.Warn("structure alerts not delivered", logx.Int("cards", len(cards)), logx.Err(err))
	}

	list := make([]transport.Card, 0, len(cur))
	for _, st := range cur {
		list = append(list, render.Structure(st, now))
	}
	if err := s.deps.Out.Enqueue(ctx, s.cfg.ListTarget, list, ""); err != nil {
		log.Warn("structure list not delivered", logx.Int("cards", len(list)), logx.Err(err))
	}

	s.update(func(st *Status) {
		st.LastFull = now
		st.Structures = len(cur)
	})
	s.deps.Bus.Publish(eventbus.Event{Type: EventStructures, Time: now, Data: StructuresPolled{At: now, Structures: cur, Alerts: len(cards)}})
	log.Info("structures polled", logx.Int("structures", len(cur)), logx.Int("alerts", len(cards)), logx.Bool("first_run", !ok))
	return nil
}

func (s *Service) pollNotifications(ctx context.Context, log logx.Logger) error {
	all, err := s.deps.Notifications.Notifications(ctx)
	if err != nil {
		return err
	}
	fresh, err := s.deps.Tracker.Track(ctx, all)
	if err != nil {
		return err
	}

	var cards []transport.Card
	if len(fresh) > 0 {
		snap, _, err := s.deps.Store.LoadSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		for _, n := range fresh {
			c := render.Alert(monitor.GenericEvent{Category: n.Type, Notification: n}, snap, s.now())
			if c == nil {
				log.Debug("notification skipped", logx.Int64("notification_id", n.ID), logx.String("type", n.Type))
				continue
			}
			cards = append(cards, *c)
		}
		if err := s.deps.Out.Enqueue(ctx, s.cfg.AlertTarget, cards, s.cfg.AlertPrefix); err != nil {
			log.Warn("notification alerts not delivered", logx.Int("cards", len(cards)), logx.Err(err))
		}
	}

	now := s.now()
	s.update(func(st *Status) { st.LastEvent = now })
	s.deps.Bus.Publish(eventbus.Event{Type: EventNotifications, Time: now, Data: NotificationsPolled{At: now, Fetched: len(all), Alerted: len(cards)}})
	log.Info("notifications polled", logx.Int("fetched", len(all)), logx.Int("new", len(fresh)), logx.Int("alerted", len(cards)))
	return nil
}

func (s *Service) fail(kind string, err error) {
	now := s.now()
	s.update(func(st *Status) {
		st.LastError = kind + ": " + err.Error()
		st.LastErrorAt = now
	})
	s.deps.Bus.Publish(eventbus.Event{Type: EventFailed, Time: now, Data: PollFailed{Kind: kind, Error: err.Error()}})
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
