package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/maillog"
	"github.com/sungwon/mailqueue/internal/queue"
	"github.com/sungwon/mailqueue/internal/suppression"
	"github.com/sungwon/mailqueue/internal/transport"
)

// fakeTransport records every envelope and returns the result of sendFn.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []*transport.Envelope
	sendFn func(ctx context.Context, env *transport.Envelope) error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(ctx context.Context, env *transport.Envelope) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, env)
	}
	return nil
}

func (f *fakeTransport) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, e := range f.sent {
		out[i] = e.To
	}
	return out
}

type fixture struct {
	store     *queue.Memory
	log       *maillog.Memory
	supp      *suppression.Memory
	transport *fakeTransport
}

func newFixture() *fixture {
	log := maillog.NewMemory()
	return &fixture{
		store:     queue.NewMemory(log),
		log:       log,
		supp:      suppression.NewMemory(),
		transport: &fakeTransport{},
	}
}

func (f *fixture) dispatcher(opts ...Option) *Dispatcher {
	return New(f.store, f.supp, f.transport, zerolog.Nop(), time.Second, opts...)
}

func (f *fixture) enqueue(t *testing.T, to string, p mail.Priority) *mail.Message {
	t.Helper()
	msg := mail.NewMessage(to, "from@example.org", "subject", "body", "", p)
	if err := f.store.Enqueue(context.Background(), msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return msg
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDrain_PriorityOrder(t *testing.T) {
	tests := []struct {
		name  string
		queue []struct {
			to string
			p  mail.Priority
		}
		want []string
	}{
		{
			name: "high low high",
			queue: []struct {
				to string
				p  mail.Priority
			}{{"high#1", mail.High}, {"low#1", mail.Low}, {"high#2", mail.High}},
			want: []string{"high#1", "high#2", "low#1"},
		},
		{
			name: "every tier",
			queue: []struct {
				to string
				p  mail.Priority
			}{
				{"low#1", mail.Low}, {"medium#1", mail.Medium}, {"high#1", mail.High},
				{"medium#2", mail.Medium}, {"low#2", mail.Low}, {"high#2", mail.High},
			},
			want: []string{"high#1", "high#2", "medium#1", "medium#2", "low#1", "low#2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			for _, m := range tt.queue {
				f.enqueue(t, m.to, m.p)
			}

			stats, err := f.dispatcher().Drain(context.Background(), DrainOptions{})
			if err != nil {
				t.Fatalf("Drain: %v", err)
			}
			if got := f.transport.recipients(); !equalStrings(got, tt.want) {
				t.Errorf("send order = %v, want %v", got, tt.want)
			}
			if stats.Attempted != len(tt.want) || stats.Sent != len(tt.want) {
				t.Errorf("stats = %+v", stats)
			}
			if f.log.Len() != len(tt.want) {
				t.Errorf("log has %d entries, want %d", f.log.Len(), len(tt.want))
			}
			pending, _ := queue.Collect(f.store.Pending(context.Background()))
			if len(pending) != 0 {
				t.Errorf("%d messages left pending", len(pending))
			}
		})
	}
}

func TestDrain_Suppressed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.supp.Add(ctx, "spam@example.com")
	msg := f.enqueue(t, "spam@example.com", mail.Medium)

	stats, err := f.dispatcher().Drain(ctx, DrainOptions{})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if len(f.transport.recipients()) != 0 {
		t.Error("transport invoked for suppressed address")
	}
	if stats.Suppressed != 1 {
		t.Errorf("stats = %+v, want one suppressed", stats)
	}
	entries, _ := f.log.Query(ctx, maillog.Filter{})
	if len(entries) != 1 || entries[0].Result != mail.ResultSuppressed {
		t.Fatalf("log = %+v, want one suppressed entry", entries)
	}
	if entries[0].MessageID != msg.ID {
		t.Errorf("log entry for %s, want %s", entries[0].MessageID, msg.ID)
	}
	if _, err := f.store.Get(ctx, msg.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Error("suppressed message still queued")
	}
}

func TestDrain_FailureDefers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.transport.sendFn = func(context.Context, *transport.Envelope) error {
		return &mail.TransportError{Transport: "fake", Err: errors.New("550 mailbox unavailable")}
	}
	msg := f.enqueue(t, "rcpt@example.com", mail.High)

	stats, err := f.dispatcher().Drain(ctx, DrainOptions{})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Deferred != 1 {
		t.Errorf("stats = %+v, want one deferred", stats)
	}

	entries, _ := f.log.Query(ctx, maillog.Filter{})
	if len(entries) != 1 || entries[0].Result != mail.ResultFailure {
		t.Fatalf("log = %+v, want one failure entry", entries)
	}
	if entries[0].Note != "fake: 550 mailbox unavailable" {
		t.Errorf("note = %q", entries[0].Note)
	}
	if entries[0].Priority != mail.High {
		t.Errorf("entry priority = %v, want the priority at attempt time", entries[0].Priority)
	}

	deferred, _ := queue.Collect(f.store.Deferred(ctx))
	if len(deferred) != 1 || deferred[0].ID != msg.ID {
		t.Errorf("Deferred() = %v, want the failed message", deferred)
	}

	// A second pass leaves the deferred message alone.
	stats, _ = f.dispatcher().Drain(ctx, DrainOptions{})
	if stats.Attempted != 0 {
		t.Errorf("second pass attempted %d messages", stats.Attempted)
	}
}

func TestDrain_RetryAfterDeferral(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	fail := true
	f.transport.sendFn = func(context.Context, *transport.Envelope) error {
		if fail {
			return errors.New("connection refused")
		}
		return nil
	}
	msg := f.enqueue(t, "rcpt@example.com", mail.Low)

	_, _ = f.dispatcher().Drain(ctx, DrainOptions{})
	fail = false

	ok, err := f.store.Retry(ctx, msg.ID, mail.DefaultPriority)
	if err != nil || !ok {
		t.Fatalf("Retry = %v, %v", ok, err)
	}
	stats, err := f.dispatcher().Drain(ctx, DrainOptions{})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Sent != 1 {
		t.Errorf("stats = %+v, want one sent", stats)
	}

	entries, _ := f.log.Query(ctx, maillog.Filter{})
	if len(entries) != 2 {
		t.Fatalf("log has %d entries, want 2", len(entries))
	}
	if entries[1].Priority != mail.Medium {
		t.Errorf("retried entry priority = %v, want medium", entries[1].Priority)
	}
}

func TestDrain_TransportTimeout(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.transport.sendFn = func(ctx context.Context, _ *transport.Envelope) error {
		<-ctx.Done()
		return &mail.TransportError{Transport: "fake", Err: ctx.Err()}
	}
	msg := f.enqueue(t, "slow@example.com", mail.Medium)

	d := New(f.store, f.supp, f.transport, zerolog.Nop(), 20*time.Millisecond)
	stats, err := d.Drain(ctx, DrainOptions{})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Deferred != 1 {
		t.Errorf("stats = %+v, want one deferred", stats)
	}

	entries, _ := f.log.Query(ctx, maillog.Filter{})
	if len(entries) != 1 || entries[0].Note != TimeoutNote {
		t.Fatalf("log = %+v, want one %q entry", entries, TimeoutNote)
	}
	got, _ := f.store.Get(ctx, msg.ID)
	if got.Priority != mail.Deferred {
		t.Errorf("priority = %v, want deferred", got.Priority)
	}
}

func TestDrain_CancelledMidPass(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.transport.sendFn = func(sendCtx context.Context, _ *transport.Envelope) error {
		cancel()
		if sendCtx.Err() != nil {
			return errors.New("send context was cancelled with the drain")
		}
		return nil
	}
	first := f.enqueue(t, "first", mail.High)
	f.enqueue(t, "second", mail.High)
	f.enqueue(t, "third", mail.Low)

	stats, err := f.dispatcher().Drain(ctx, DrainOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Drain error = %v, want context.Canceled", err)
	}
	if stats.Sent != 1 {
		t.Errorf("stats = %+v, want the in-flight message sent", stats)
	}

	bg := context.Background()
	if _, err := f.store.Get(bg, first.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Error("in-flight message was not committed")
	}
	if f.log.Len() != 1 {
		t.Errorf("log has %d entries, want 1", f.log.Len())
	}

	pending, _ := queue.Collect(f.store.Pending(bg))
	if len(pending) != 2 {
		t.Fatalf("%d messages pending, want 2 untouched", len(pending))
	}
	for _, m := range pending {
		if m.Priority.IsDeferred() {
			t.Errorf("untouched message %s was deferred", m.To)
		}
	}
}

func TestDrain_AlreadyCancelled(t *testing.T) {
	f := newFixture()
	f.enqueue(t, "a", mail.High)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.dispatcher().Drain(ctx, DrainOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Drain error = %v, want context.Canceled", err)
	}
	if len(f.transport.recipients()) != 0 {
		t.Error("transport invoked after cancellation")
	}
}

func TestDrain_ConcurrentDrainsSendOnce(t *testing.T) {
	f := newFixture()
	const n = 40
	for i := 0; i < n; i++ {
		f.enqueue(t, uuid.NewString()+"@example.com", mail.Priority(1+i%3))
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.dispatcher().Drain(context.Background(), DrainOptions{}); err != nil {
				t.Errorf("Drain: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, to := range f.transport.recipients() {
		seen[to]++
	}
	if len(seen) != n {
		t.Errorf("transport saw %d distinct messages, want %d", len(seen), n)
	}
	for to, count := range seen {
		if count != 1 {
			t.Errorf("%s sent %d times", to, count)
		}
	}
	if f.log.Len() != n {
		t.Errorf("log has %d entries, want %d", f.log.Len(), n)
	}
}

// brokenLog fails every append.
type brokenLog struct {
	maillog.Memory
}

func (b *brokenLog) Append(context.Context, *mail.LogEntry) error {
	return errors.New("disk full")
}

func TestDrain_PersistenceErrorAborts(t *testing.T) {
	store := queue.NewMemory(&brokenLog{})
	tr := &fakeTransport{}
	ctx := context.Background()

	msg := mail.NewMessage("a@example.com", "f", "s", "b", "", mail.High)
	_ = store.Enqueue(ctx, msg)
	_ = store.Enqueue(ctx, mail.NewMessage("b@example.com", "f", "s", "b", "", mail.Low))

	d := New(store, suppression.NewMemory(), tr, zerolog.Nop(), time.Second)
	_, err := d.Drain(ctx, DrainOptions{})
	if !errors.Is(err, mail.ErrPersistence) {
		t.Fatalf("Drain error = %v, want ErrPersistence", err)
	}

	if len(tr.recipients()) != 1 {
		t.Errorf("pass continued after persistence error: sent %v", tr.recipients())
	}
	got, err := store.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("message lost after failed commit: %v", err)
	}
	if got.Priority != mail.High {
		t.Errorf("priority = %v, want unchanged high", got.Priority)
	}
}

// brokenSuppressions fails every lookup.
type brokenSuppressions struct {
	suppression.Memory
}

func (b *brokenSuppressions) Contains(context.Context, string) (bool, error) {
	return false, errors.New("connection reset")
}

func TestDrain_SuppressionErrorReleasesClaim(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	msg := f.enqueue(t, "a@example.com", mail.High)

	d := New(f.store, &brokenSuppressions{}, f.transport, zerolog.Nop(), time.Second)
	if _, err := d.Drain(ctx, DrainOptions{}); err == nil {
		t.Fatal("expected error from failing suppression list")
	}
	if len(f.transport.recipients()) != 0 {
		t.Error("transport invoked without a suppression check")
	}

	c, err := f.store.ClaimNext(ctx, queue.ClaimOptions{})
	if err != nil {
		t.Fatalf("message not released: %v", err)
	}
	if c.Message().ID != msg.ID {
		t.Errorf("claimed %s, want %s", c.Message().ID, msg.ID)
	}
}

func TestDrain_LimitAndPriorityFilter(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.enqueue(t, "high", mail.High)
	}
	f.enqueue(t, "low", mail.Low)

	stats, err := f.dispatcher().Drain(context.Background(), DrainOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Attempted != 2 {
		t.Errorf("attempted %d, want limit of 2", stats.Attempted)
	}

	stats, _ = f.dispatcher().Drain(context.Background(), DrainOptions{Priorities: []mail.Priority{mail.Low}})
	if stats.Attempted != 1 {
		t.Errorf("low-only pass attempted %d, want 1", stats.Attempted)
	}
	if got := f.transport.recipients(); got[len(got)-1] != "low" {
		t.Errorf("low-only pass sent %v", got)
	}
}

func TestDrain_IgnoresMessagesAddedDuringPass(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.enqueue(t, "original", mail.Low)

	f.transport.sendFn = func(context.Context, *transport.Envelope) error {
		late := mail.NewMessage("late", "f", "s", "b", "", mail.High)
		late.WhenAdded = time.Now().Add(time.Second)
		return f.store.Enqueue(ctx, late)
	}

	stats, err := f.dispatcher().Drain(ctx, DrainOptions{})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Attempted != 1 {
		t.Errorf("attempted %d, want only the message present at pass start", stats.Attempted)
	}
}

func TestDrain_RecordsSpans(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.supp.Add(ctx, "spam@example.com")
	f.enqueue(t, "ok@example.com", mail.High)
	f.enqueue(t, "spam@example.com", mail.Low)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(ctx)

	if _, err := f.dispatcher(WithTracerProvider(tp)).Drain(ctx, DrainOptions{}); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	want := []struct{ priority, result string }{{"high", "success"}, {"low", "suppressed"}}
	for i, s := range spans {
		if s.Name() != "dispatch.deliver" {
			t.Errorf("span name = %q", s.Name())
		}
		attrs := make(map[string]string)
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		if attrs["mail.priority"] != want[i].priority || attrs["mail.result"] != want[i].result {
			t.Errorf("span %d attributes = %v, want %+v", i, attrs, want[i])
		}
	}
}

func TestDrain_UsesClock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.enqueue(t, "a", mail.High)

	fixed := time.Now().Add(time.Hour).UTC().Truncate(mail.TimePrecision)
	if _, err := f.dispatcher(WithClock(func() time.Time { return fixed })).Drain(ctx, DrainOptions{}); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	entries, _ := f.log.Query(ctx, maillog.Filter{})
	if len(entries) != 1 || !entries[0].WhenAttempted.Equal(fixed) {
		t.Errorf("WhenAttempted = %v, want %v", entries[0].WhenAttempted, fixed)
	}
}
