package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"structwatch/internal/eventbus"
	"structwatch/internal/model"
	"structwatch/internal/transport"
	logx "structwatch/pkg/logx"
)

type fakeChannel struct {
	mu sync.Mutex

	ready chan struct{}

	texts    []string
	batches  [][]string
	leadings []string
	deleted  []transport.MessageRef
	bulkDels int

	nextID      int
	failSends   int
	failDeletes bool
	// partialSends makes SendCards deliver one message and then fail.
	partialSends int
}

func newFakeChannel() *fakeChannel { return &fakeChannel{ready: make(chan struct{})} }

func (f *fakeChannel) Ready() <-chan struct{} { return f.ready }

func (f *fakeChannel) ref(to transport.Target) transport.MessageRef {
	f.nextID++
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}
}

func (f *fakeChannel) SendText(_ context.Context, to transport.Target, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return transport.MessageRef{}, errors.New("flood wait")
	}
	f.texts = append(f.texts, text)
	return f.ref(to), nil
}

func (f *fakeChannel) SendCards(_ context.Context, to transport.Target, cards []transport.Card, leading string) ([]transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return nil, errors.New("flood wait")
	}
	if f.partialSends > 0 {
		f.partialSends--
		return []transport.MessageRef{f.ref(to)}, errors.New("flood wait after first part")
	}
	titles := make([]string, 0, len(cards))
	for _, c := range cards {
		titles = append(titles, c.Title)
	}
	f.batches = append(f.batches, titles)
	f.leadings = append(f.leadings, leading)
	return []transport.MessageRef{f.ref(to)}, nil
}

func (f *fakeChannel) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeletes {
		return errors.New("forbidden")
	}
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeChannel) DeleteMessages(_ context.Context, refs []transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkDels++
	if f.failDeletes {
		return errors.New("forbidden")
	}
	f.deleted = append(f.deleted, refs...)
	return nil
}

type memTracking struct {
	mu   sync.Mutex
	data map[string][]model.TrackedMessage
}

func (m *memTracking) LoadTracked(_ context.Context, target string) ([]model.TrackedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TrackedMessage(nil), m.data[target]...), nil
}

func (m *memTracking) SaveTracked(_ context.Context, target string, msgs []model.TrackedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]model.TrackedMessage{}
	}
	m.data[target] = msgs
	return nil
}

func testConfig() Config {
	return Config{RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func cards(n int) []transport.Card {
	out := make([]transport.Card, n)
	for i := range out {
		out[i] = transport.Card{Title: string(rune('a' + i%26))}
	}
	return out
}

var alerts = Target{Key: "alerts", To: transport.Target{ChatID: -1001}}

func TestQueueBuffersUntilReadyInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ch := newFakeChannel()
	q := New(testConfig(), ch, nil, nil, logx.Nop())

	for _, s := range []string{"A", "B", "C"} {
		if err := q.EnqueueText(ctx, alerts, s); err != nil {
			t.Fatalf("EnqueueText(%s): %v", s, err)
		}
	}
	if len(ch.texts) != 0 {
		t.Fatalf("sent before ready: %v", ch.texts)
	}
	if q.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", q.Pending())
	}

	q.MarkReady(ctx)
	q.MarkReady(ctx)

	if diff := cmp.Diff([]string{"A", "B", "C"}, ch.texts); diff != "" {
		t.Fatalf("delivery mismatch (-want +got):\n%s", diff)
	}
	if !q.Ready() || q.Pending() != 0 {
		t.Fatalf("Ready = %v, Pending = %d after drain", q.Ready(), q.Pending())
	}

	if err := q.EnqueueText(ctx, alerts, "D"); err != nil {
		t.Fatalf("EnqueueText after ready: %v", err)
	}
	if got := ch.texts[len(ch.texts)-1]; got != "D" {
		t.Fatalf("pass-through not immediate, last = %q", got)
	}
}

func TestQueueFlushWhenReady(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ch := newFakeChannel()
	q := New(testConfig(), ch, nil, nil, logx.Nop())
	_ = q.EnqueueText(ctx, alerts, "queued")

	done := make(chan error, 1)
	go func() { done <- q.FlushWhenReady(ctx) }()

	select {
	case <-done:
		t.Fatal("FlushWhenReady returned before the channel was ready")
	case <-time.After(20 * time.Millisecond):
	}

	close(ch.ready)
	if err := <-done; err != nil {
		t.Fatalf("FlushWhenReady: %v", err)
	}
	if diff := cmp.Diff([]string{"queued"}, ch.texts); diff != "" {
		t.Fatalf("delivery mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueFlushWhenReadyCanceled(t *testing.T) {
	t.Parallel()

	q := New(testConfig(), newFakeChannel(), nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.FlushWhenReady(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("FlushWhenReady = %v, want context.Canceled", err)
	}
}

func TestQueueChunksCards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ch := newFakeChannel()
	q := New(testConfig(), ch, nil, nil, logx.Nop())
	q.MarkReady(ctx)

	in := cards(23)
	if err := q.Enqueue(ctx, alerts, in, "@here"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var sizes []int
	var flat []string
	for _, b := range ch.batches {
		sizes = append(sizes, len(b))
		flat = append(flat, b...)
	}
	if diff := cmp.Diff([]int{10, 10, 3}, sizes); diff != "" {
		t.Fatalf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
	var want []string
	for _, c := range in {
		want = append(want, c.Title)
	}
	if diff := cmp.Diff(want, flat); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	for _, l := range ch.leadings {
		if l != "@here" {
			t.Fatalf("leading text = %q, want @here on every chunk", l)
		}
	}
}

func TestQueueIgnoresEmptyBatches(t *testing.T) {
	t.Parallel()

	q := New(testConfig(), newFakeChannel(), nil, nil, logx.Nop())
	_ = q.Enqueue(context.Background(), alerts, nil, "@here")
	_ = q.EnqueueText(context.Background(), alerts, "")
	if q.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", q.Pending())
	}
}

func TestQueueRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ch := newFakeChannel()
	ch.failSends = 2
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	q := New(testConfig(), ch, nil, bus, logx.Nop())
	q.MarkReady(ctx)
	if err := q.EnqueueText(ctx, alerts, "hello"); err != nil {
		t.Fatalf("EnqueueText: %v", err)
	}
	if diff := cmp.Diff([]string{"hello"}, ch.texts); diff != "" {
		t.Fatalf("delivery mismatch (-want +got):\n%s", diff)
	}
	ev := <-events
	if ev.Type != EventSent {
		t.Fatalf("event = %s, want %s", ev.Type, EventSent)
	}
}

func TestQueueGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ch := newFakeChannel()
	ch.failSends = 10
	q := New(testConfig(), ch, nil, nil, logx.Nop())
	q.MarkReady(ctx)
	if err := q.EnqueueText(ctx, alerts, "hello"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if ch.failSends != 7 {
		t.Fatalf("attempts = %d, want 3", 10-ch.failSends)
	}
}

func TestRollingTargetReplacesPreviousView(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ch := newFakeChannel()
	st := &memTracking{}
	q := New(testConfig(), ch, st, nil, logx.Nop())
	q.MarkReady(ctx)

	list := Target{Key: "list", To: transport.Target{ChatID: -2002}, Rolling: true}
	if err := q.Enqueue(ctx, list, cards(12), ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first, _ := st.LoadTracked(ctx, "list")
	if len(first) != 2 {
		t.Fatalf("tracked = %v, want 2 refs", first)
	}

	if err := q.Enqueue(ctx, list, cards(3), ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if diff := cmp.Diff(fromTracked(first), ch.deleted); diff != "" {
		t.Fatalf("deleted mismatch (-want +got):\n%s", diff)
	}
	second, _ := st.LoadTracked(ctx, "list")
	if len(second) != 1 || second[0].MessageID != 3 {
		t.Fatalf("tracked after replace = %v", second)
	}
}

func TestRollingTracksPartialSendsAcrossRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ch := newFakeChannel()
	ch.partialSends = 1
	st := &memTracking{}
	q := New(testConfig(), ch, st, nil, logx.Nop())
	q.MarkReady(ctx)

	list := Target{Key: "list", To: transport.Target{ChatID: -2002}, Rolling: true}
	if err := q.Enqueue(ctx, list, cards(3), ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	tracked, _ := st.LoadTracked(ctx, "list")
	var ids []int
	for _, m := range tracked {
		ids = append(ids, m.MessageID)
	}
	if diff := cmp.Diff([]int{1, 2}, ids); diff != "" {
		t.Fatalf("tracked ids mismatch (-want +got):\n%s", diff)
	}

	// The next pass removes both the partial and the retried message.
	if err := q.Enqueue(ctx, list, cards(1), ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(ch.deleted) != 2 {
		t.Fatalf("deleted = %v, want both earlier messages", ch.deleted)
	}
}

func TestRollingDeleteFailureDoesNotBlockSend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ch := newFakeChannel()
	ch.failDeletes = true
	st := &memTracking{data: map[string][]model.TrackedMessage{
		"list": {{ChatID: -2002, MessageID: 900}},
	}}
	q := New(testConfig(), ch, st, nil, logx.Nop())
	q.MarkReady(ctx)

	list := Target{Key: "list", To: transport.Target{ChatID: -2002}, Rolling: true}
	if err := q.Enqueue(ctx, list, cards(1), ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(ch.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(ch.batches))
	}
	got, _ := st.LoadTracked(ctx, "list")
	want := []model.TrackedMessage{{ChatID: -2002, MessageID: 900}, {ChatID: -2002, MessageID: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tracked mismatch (-want +got):\n%s", diff)
	}
}

type recentChannel struct {
	*fakeChannel
	recent []transport.MessageRef
}

func (r *recentChannel) FetchRecent(context.Context, transport.Target, int) ([]transport.MessageRef, error) {
	return r.recent, nil
}

func TestRollingTargetUsesRecentHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	base := newFakeChannel()
	ch := &recentChannel{fakeChannel: base, recent: []transport.MessageRef{{ChatID: -3, MessageID: 70}, {ChatID: -3, MessageID: 71}}}
	st := &memTracking{data: map[string][]model.TrackedMessage{"list": {{ChatID: -3, MessageID: 70}}}}
	cfg := testConfig()
	cfg.RecentScan = 100

	q := New(cfg, ch, st, nil, logx.Nop())
	q.MarkReady(ctx)
	list := Target{Key: "list", To: transport.Target{ChatID: -3}, Rolling: true}
	if err := q.Enqueue(ctx, list, cards(1), ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	want := []transport.MessageRef{{ChatID: -3, MessageID: 70}, {ChatID: -3, MessageID: 71}}
	if diff := cmp.Diff(want, base.deleted); diff != "" {
		t.Fatalf("deleted mismatch (-want +got):\n%s", diff)
	}
	if base.bulkDels != 1 {
		t.Fatalf("bulk deletes = %d, want 1", base.bulkDels)
	}
}

func TestChunk(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n    int
		want []int
	}{
		{0, nil},
		{1, []int{1}},
		{10, []int{10}},
		{11, []int{10, 1}},
		{23, []int{10, 10, 3}},
	}
	for _, tc := range cases {
		var got []int
		for _, c := range Chunk(cards(tc.n), 10) {
			got = append(got, len(c))
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("Chunk(%d) mismatch (-want +got):\n%s", tc.n, diff)
		}
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("retryDelay(1) = %v, want 70ms..130ms", d)
	}
}
