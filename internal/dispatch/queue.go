// Package dispatch buffers rendered output until the chat channel is ready
// and then delivers it in order, paced and retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"structwatch/internal/eventbus"
	"structwatch/internal/model"
	"structwatch/internal/transport"
	logx "structwatch/pkg/logx"
)

var ErrNoChannel = errors.New("dispatch: no channel")

// maxUndeleted caps how many stale rolling messages are carried over for another delete attempt.
const maxUndeleted = 200

// TrackingStore persists the messages that make up each rolling target.
type TrackingStore interface {
	LoadTracked(ctx context.Context, target string) ([]model.TrackedMessage, error)
	SaveTracked(ctx context.Context, target string, msgs []model.TrackedMessage) error
}

// Queue is a one-way NotReady -> Ready dispatcher.
//
// While not ready every item is buffered in FIFO order. MarkReady drains the
// buffer and only then switches to pass-through; items enqueued during the
// drain are appended and drained before the switch.
//
// It is safe for concurrent use.
type Queue struct {
	ch    transport.Channel
	store TrackingStore
	bus   eventbus.Bus
	log   logx.Logger

	cfg     Config
	limiter *rate.Limiter

	mu       sync.Mutex
	ready    bool
	draining bool
	pending  []item

	// sendMu serialises deliveries so a drain and a pass-through never interleave.
	sendMu sync.Mutex
}

func New(cfg Config, ch transport.Channel, store TrackingStore, bus eventbus.Bus, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Queue{
		ch:    ch,
		store: store,
		bus:   bus,
		log:   log,
		cfg:   cfg,
		// Burst = rate so short spikes go out without waiting.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Ready reports whether the queue passes items straight through.
func (q *Queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}

// Pending returns the number of buffered items.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enqueue schedules cards for target. Empty batches are ignored. When the
// queue is ready the batch is delivered before Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, target Target, cards []transport.Card, leading string) error {
	if len(cards) == 0 {
		return nil
	}
	return q.submit(ctx, item{target: target, cards: append([]transport.Card(nil), cards...), leading: leading})
}

// EnqueueText schedules a plain text message for target.
func (q *Queue) EnqueueText(ctx context.Context, target Target, text string) error {
	if text == "" {
		return nil
	}
	return q.submit(ctx, item{target: target, text: text})
}

func (q *Queue) submit(ctx context.Context, it item) error {
	q.mu.Lock()
	if !q.ready || q.draining {
		q.pending = append(q.pending, it)
		n := len(q.pending)
		q.mu.Unlock()
		q.log.Debug("dispatch buffered", logx.String("target", it.target.Key), logx.Int("pending", n))
		return nil
	}
	q.mu.Unlock()

	q.sendMu.Lock()
	defer q.sendMu.Unlock()
	return q.deliver(ctx, it)
}

// FlushWhenReady blocks until the channel signals readiness, then drains
// the buffer. It returns ctx.Err() if ctx ends first.
func (q *Queue) FlushWhenReady(ctx context.Context) error {
	if q.ch == nil {
		return ErrNoChannel
	}
	select {
	case <-q.ch.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	q.MarkReady(ctx)
	return nil
}

// MarkReady drains everything buffered so far in FIFO order and switches the
// queue to pass-through. Calling it again is a no-op.
func (q *Queue) MarkReady(ctx context.Context) {
	q.mu.Lock()
	if q.ready {
		q.mu.Unlock()
		return
	}
	q.ready = true
	q.draining = true
	q.mu.Unlock()

	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	drained := 0
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		if len(batch) == 0 {
			q.draining = false
			q.mu.Unlock()
			break
		}
		q.mu.Unlock()

		for _, it := range batch {
			if err := q.deliver(ctx, it); err != nil {
				q.log.Warn("buffered dispatch failed", logx.String("target", it.target.Key), logx.Err(err))
			}
			drained++
		}
	}
	q.log.Info("dispatch ready", logx.Int("drained", drained))
}

func (q *Queue) deliver(ctx context.Context, it item) error {
	if q.ch == nil {
		return ErrNoChannel
	}
	if it.isText() {
		err := q.withRetry(ctx, func(c context.Context) error {
			_, err := q.ch.SendText(c, it.target.To, it.text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return err
		})
		q.publish(it, 1, err)
		return err
	}

	var prior []model.TrackedMessage
	if it.target.Rolling {
		prior = q.clearRolling(ctx, it.target)
	}

	var (
		refs    []transport.MessageRef
		sendErr error
	)
	for _, chunk := range Chunk(it.cards, transport.MaxCardsPerSend) {
		// A failed attempt may still have delivered part of the chunk; those
		// refs are kept so a rolling view can delete them next pass.
		err := q.withRetry(ctx, func(c context.Context) error {
			got, err := q.ch.SendCards(c, it.target.To, chunk, it.leading)
			refs = append(refs, got...)
			return err
		})
		if err != nil {
			sendErr = fmt.Errorf("send %d cards to %s: %w", len(chunk), it.target.Key, err)
			q.log.Warn("card batch failed", logx.String("target", it.target.Key), logx.Int("cards", len(chunk)), logx.Err(err))
		}
	}

	if it.target.Rolling && q.store != nil {
		tracked := toTracked(refs)
		// Keep refs of prior messages we could not delete so the next pass retries them.
		tracked = append(prior, tracked...)
		if err := q.store.SaveTracked(ctx, it.target.Key, tracked); err != nil {
			q.log.Warn("save rolling messages failed", logx.String("target", it.target.Key), logx.Err(err))
		}
	}
	q.publish(it, len(refs), sendErr)
	return sendErr
}

// clearRolling deletes the previous view of a rolling target and returns the
// tracked messages that could not be removed. Failures never block the send.
func (q *Queue) clearRolling(ctx context.Context, t Target) []model.TrackedMessage {
	var refs []transport.MessageRef
	if q.store != nil {
		tracked, err := q.store.LoadTracked(ctx, t.Key)
		if err != nil {
			q.log.Warn("load rolling messages failed", logx.String("target", t.Key), logx.Err(err))
		}
		refs = fromTracked(tracked)
	}
	if rf, ok := q.ch.(transport.RecentFetcher); ok && q.cfg.RecentScan > 0 {
		recent, err := rf.FetchRecent(ctx, t.To, q.cfg.RecentScan)
		if err != nil {
			q.log.Warn("fetch recent messages failed", logx.String("target", t.Key), logx.Err(err))
		}
		refs = mergeRefs(refs, recent)
	}
	if len(refs) == 0 {
		return nil
	}

	err := q.ch.DeleteMessages(ctx, refs)
	if err == nil {
		return nil
	}
	q.log.Warn("bulk delete failed; deleting one by one", logx.String("target", t.Key), logx.Int("messages", len(refs)), logx.Err(err))

	var left []model.TrackedMessage
	for _, r := range refs {
		if err := q.ch.DeleteMessage(ctx, r); err != nil {
			q.log.Debug("delete message failed", logx.Int("message_id", r.MessageID), logx.Err(err))
			if !errors.Is(err, transport.ErrMessageGone) {
				left = append(left, model.TrackedMessage{ChatID: r.ChatID, ThreadID: r.ThreadID, MessageID: r.MessageID})
			}
		}
	}
	if len(left) > maxUndeleted {
		left = left[len(left)-maxUndeleted:]
	}
	return left
}

func (q *Queue) withRetry(ctx context.Context, fn func(context.Context) error) error {
	maxAttempts := 1 + q.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		q.log.Debug("send failed", logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(q.cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

func (q *Queue) publish(it item, sent int, err error) {
	if q.bus == nil {
		return
	}
	ev := Event{Target: it.target.Key, Cards: len(it.cards), Sent: sent, At: time.Now()}
	typ := EventSent
	if err != nil {
		typ = EventFailed
		ev.Error = err.Error()
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// retryDelay is the wait before the attempt after `attempt`:
// exponential from RetryBase, capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

// Chunk splits cards into consecutive batches of at most size, keeping order.
func Chunk(cards []transport.Card, size int) [][]transport.Card {
	if size <= 0 {
		size = transport.MaxCardsPerSend
	}
	var out [][]transport.Card
	for i := 0; i < len(cards); i += size {
		end := i + size
		if end > len(cards) {
			end = len(cards)
		}
		out = append(out, cards[i:end])
	}
	return out
}

func toTracked(refs []transport.MessageRef) []model.TrackedMessage {
	out := make([]model.TrackedMessage, 0, len(refs))
	for _, r := range refs {
		out = append(out, model.TrackedMessage{ChatID: r.ChatID, ThreadID: r.ThreadID, MessageID: r.MessageID})
	}
	return out
}

func fromTracked(msgs []model.TrackedMessage) []transport.MessageRef {
	out := make([]transport.MessageRef, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, transport.MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.MessageID})
	}
	return out
}

func mergeRefs(a, b []transport.MessageRef) []transport.MessageRef {
	seen := make(map[transport.MessageRef]struct{}, len(a)+len(b))
	out := make([]transport.MessageRef, 0, len(a)+len(b))
	for _, list := range [][]transport.MessageRef{a, b} {
		for _, r := range list {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
