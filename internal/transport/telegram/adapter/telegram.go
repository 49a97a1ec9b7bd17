// Package adapter implements transport.Adapter on top of the Telegram Bot API.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "structwatch/internal/runtime/supervisor"
	"structwatch/internal/transport"
	"structwatch/pkg/tgui"
	logx "structwatch/pkg/logx"
)

// Config holds the bot settings.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides https://api.telegram.org.
	APIURL string
	Client *http.Client
	// Commands enables update polling so the bot answers /status in
	// CommandChats.
	Commands     bool
	CommandChats []int64
}

// StatusFunc renders the HTML reply to /status.
type StatusFunc func(ctx context.Context) string

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	ready     chan struct{}
	readyOnce sync.Once
	polling   atomic.Bool
	status    atomic.Value // StatusFunc
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline skips the getMe call; readiness is probed on Start instead.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  cfg.Client,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: true,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, ready: make(chan struct{})}
	a.registerHandlers()
	return a, nil
}

// SetStatus installs the /status renderer.
func (a *Adapter) SetStatus(fn StatusFunc) {
	if fn != nil {
		a.status.Store(fn)
	}
}

// Ready is closed after the first successful getMe.
func (a *Adapter) Ready() <-chan struct{} { return a.ready }

func (a *Adapter) registerHandlers() {
	a.bot.Handle("/status", func(c tele.Context) error {
		fn, _ := a.status.Load().(StatusFunc)
		if fn == nil || c.Chat() == nil || !a.commandAllowed(c.Chat().ID) {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		opt := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
		if m := c.Message(); m != nil {
			opt.ThreadID = m.ThreadID
		}
		return c.Send(fn(ctx), opt)
	})
}

func (a *Adapter) commandAllowed(chatID int64) bool {
	for _, id := range a.cfg.CommandChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.GoRestart("telebot.ready", func(c context.Context) error {
		if err := a.probe(); err != nil {
			return err
		}
		a.readyOnce.Do(func() { close(a.ready) })
		a.log.Info("telegram ready", logx.String("bot", a.bot.Me.Username))
		if a.cfg.Commands {
			a.startPolling(sup)
		}
		return nil
	}, rtsup.WithRestartBackoff(time.Second, time.Minute))

	return nil
}

// probe calls getMe and records the bot identity.
func (a *Adapter) probe() error {
	data, err := a.bot.Raw("getMe", map[string]string{})
	if err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	var resp struct {
		Result tele.User `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	a.bot.Me = &resp.Result
	return nil
}

func (a *Adapter) startPolling(sup *rtsup.Supervisor) {
	cmds := []tele.Command{{Text: "status", Description: "Structure monitor status"}}
	if err := a.bot.SetCommands(cmds); err != nil {
		a.log.Warn("set bot commands failed", logx.Err(err))
	}

	// bot.Stop blocks unless the poll loop is running.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.polling.Load() {
			a.bot.Stop()
		}
	})
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		a.polling.Store(true)
		a.bot.Start()
		a.polling.Store(false)
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if a long poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) sendOptions(to transport.Target, opt *transport.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID, DisableWebPagePreview: true}
	if opt != nil {
		so.ParseMode = tele.ParseMode(opt.ParseMode)
		so.DisableWebPagePreview = opt.DisablePreview
	}
	return so
}

// send delivers each chunk as its own message and returns the refs sent so far.
func (a *Adapter) send(ctx context.Context, to transport.Target, chunks []string, opt *tele.SendOptions) ([]transport.MessageRef, error) {
	chat := &tele.Chat{ID: to.ChatID}
	refs := make([]transport.MessageRef, 0, len(chunks))
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return refs, err
		}
		msg, err := a.bot.Send(chat, chunk, opt)
		if err != nil {
			return refs, err
		}
		refs = append(refs, transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID})
	}
	return refs, nil
}

// SendText sends text, split under the message limit. The first ref is returned.
func (a *Adapter) SendText(ctx context.Context, to transport.Target, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	so := a.sendOptions(to, opt)
	chunks := tgui.Split(text, tgui.MessageLimit, strings.EqualFold(string(so.ParseMode), string(tele.ModeHTML)))
	refs, err := a.send(ctx, to, chunks, so)
	if len(refs) == 0 {
		return transport.MessageRef{}, err
	}
	return refs[0], err
}

// SendCards renders the cards as HTML blocks, packs them into as few
// messages as fit and returns a ref for every message sent.
func (a *Adapter) SendCards(ctx context.Context, to transport.Target, cards []transport.Card, leading string) ([]transport.MessageRef, error) {
	msgs := packCards(leading, cards, tgui.MessageLimit)
	return a.send(ctx, to, msgs, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		ThreadID:              to.ThreadID,
		DisableWebPagePreview: true,
	})
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := a.bot.Delete(&tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID})
	if err != nil && isGone(err) {
		return fmt.Errorf("%w: %d", transport.ErrMessageGone, ref.MessageID)
	}
	return err
}

// DeleteMessages deletes every ref. Messages that are already gone are
// not errors; the rest are joined.
func (a *Adapter) DeleteMessages(ctx context.Context, refs []transport.MessageRef) error {
	var errs []error
	for _, r := range refs {
		err := a.DeleteMessage(ctx, r)
		if err == nil || errors.Is(err, transport.ErrMessageGone) {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func isGone(err error) bool {
	if errors.Is(err, tele.ErrNotFoundToDelete) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "message to delete not found") ||
		strings.Contains(msg, "message can't be deleted")
}
