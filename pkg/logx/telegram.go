package logx

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"structwatch/internal/transport"
	"structwatch/pkg/tgui"
)

// Sender is the part of a chat channel the Telegram sink needs.
type Sender interface {
	Ready() <-chan struct{}
	SendText(ctx context.Context, to transport.Target, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

const (
	sinkQueue    = 256
	sinkTimeout  = 10 * time.Second
	maxValueLen  = 300
	maxMsgLen    = 1000
	defaultBurst = 3
)

type telegramSink struct {
	sender Sender
	queue  chan string

	mu       sync.Mutex
	to       transport.Target
	minLevel zerolog.Level
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTelegramSink(sender Sender) *telegramSink {
	ctx, cancel := context.WithCancel(context.Background())
	t := &telegramSink{
		sender:   sender,
		queue:    make(chan string, sinkQueue),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, defaultBurst),
		ctx:      ctx,
		cancel:   cancel,
	}
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	t.to = transport.Target{ChatID: chatID, ThreadID: threadID}
	t.mu.Unlock()
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	if cfg.ThreadID != 0 {
		t.to.ThreadID = cfg.ThreadID
	}
	r := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		r = 1
	}
	t.limiter.SetLimit(r)
}

func (t *telegramSink) Write(p []byte) (int, error) { return len(p), nil }

// WriteLevel never blocks the caller. Lines below the threshold, over the
// rate limit, or arriving with a full queue are dropped.
func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	skip := t.to.IsZero() || level < t.minLevel
	t.mu.Unlock()
	if skip || !t.limiter.Allow() {
		return len(p), nil
	}
	select {
	case t.queue <- formatLogLine(level, p):
	default:
	}
	return len(p), nil
}

func (t *telegramSink) run() {
	defer t.wg.Done()
	select {
	case <-t.sender.Ready():
	case <-t.ctx.Done():
		return
	}
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg := <-t.queue:
			t.mu.Lock()
			to := t.to
			t.mu.Unlock()
			if to.IsZero() {
				continue
			}
			ctx, cancel := context.WithTimeout(t.ctx, sinkTimeout)
			_, _ = t.sender.SendText(ctx, to, msg, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) close() {
	t.cancel()
	t.wg.Wait()
}

var levelMark = map[zerolog.Level]string{
	zerolog.DebugLevel: "🐞",
	zerolog.InfoLevel:  "ℹ️",
	zerolog.WarnLevel:  "⚠️",
	zerolog.ErrorLevel: "❌",
	zerolog.FatalLevel: "💀",
	zerolog.PanicLevel: "💀",
}

// formatLogLine turns one JSON log event into a short HTML message.
func formatLogLine(level zerolog.Level, p []byte) string {
	var ev map[string]any
	if err := json.Unmarshal(p, &ev); err != nil {
		return tgui.Esc(tgui.TruncRunes(strings.TrimSpace(string(p)), maxMsgLen)).String()
	}
	msg, _ := ev[zerolog.MessageFieldName].(string)
	comp, _ := ev["comp"].(string)
	for _, k := range []string{zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.TimestampFieldName, zerolog.CallerFieldName, "comp"} {
		delete(ev, k)
	}

	head := []tgui.H{tgui.Raw(levelMark[level]), tgui.B(strings.ToUpper(level.String())), tgui.Esc(tgui.TruncRunes(msg, maxMsgLen))}
	if comp != "" {
		head = append(head, tgui.I(comp))
	}
	lines := []tgui.H{tgui.JoinH(" ", head...)}

	keys := make([]string, 0, len(ev))
	for k := range ev {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, tgui.Raw(tgui.Code(k).String()+"="+tgui.Esc(tgui.TruncRunes(fieldText(ev[k]), maxValueLen)).String()))
	}
	return tgui.JoinH("\n", lines...).String()
}

func fieldText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(b)
}
