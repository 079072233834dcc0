package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/examprep/internal/apiservice"
)

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeClock hands out unbuffered tickers keyed by interval; fire blocks until
// the session loop has taken the tick.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[time.Duration]*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		tickers: map[time.Duration]*fakeTicker{},
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers[d] = t
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) ticker(d time.Duration) *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[d]
}

func (c *fakeClock) fire(t *testing.T, d time.Duration) {
	t.Helper()
	tk := c.ticker(d)
	if tk == nil || tk.isStopped() {
		t.Fatalf("no running ticker for %v", d)
	}
	select {
	case tk.ch <- c.Now():
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker %v not drained", d)
	}
}

type call struct {
	op   string
	req  apiservice.SaveRequest
	kind string
}

type fakeBackend struct {
	mu         sync.Mutex
	test       apiservice.Test
	progress   apiservice.Progress
	getErr     error
	progErr    error
	saveErr    error
	submitErrs []error
	submitGate chan struct{}
	calls      []call
}

func (b *fakeBackend) GetAITest(ctx context.Context, id string) (apiservice.Test, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return apiservice.Test{}, b.getErr
	}
	return b.test, nil
}

func (b *fakeBackend) GetSavedProgress(ctx context.Context, id string) (apiservice.Progress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.progErr != nil {
		return apiservice.Progress{}, b.progErr
	}
	return b.progress, nil
}

func (b *fakeBackend) SaveProgress(ctx context.Context, req apiservice.SaveRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call{op: "save", req: req})
	return b.saveErr
}

func (b *fakeBackend) nextSubmit(kind string) error {
	if b.submitGate != nil {
		<-b.submitGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call{op: "submit", kind: kind})
	if len(b.submitErrs) > 0 {
		err := b.submitErrs[0]
		b.submitErrs = b.submitErrs[1:]
		return err
	}
	return nil
}

func (b *fakeBackend) SubmitDrill(ctx context.Context, id string) error {
	return b.nextSubmit("drill")
}

func (b *fakeBackend) SubmitTest(ctx context.Context, id, testType string) (apiservice.SubmitSummary, error) {
	if err := b.nextSubmit(testType); err != nil {
		return apiservice.SubmitSummary{}, err
	}
	return apiservice.SubmitSummary{TestInstanceID: "res-" + id}, nil
}

func (b *fakeBackend) ops(op string) []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []call
	for _, c := range b.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type recSink struct {
	ch chan Event
}

func newRecSink() *recSink { return &recSink{ch: make(chan Event, 1024)} }

func (r *recSink) Publish(_ string, ev Event) {
	select {
	case r.ch <- ev:
	default:
	}
}

// waitFor drains events until one matches typ (and level, for toasts).
func (r *recSink) waitFor(t *testing.T, typ, level string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Type == typ && (level == "" || ev.Level == level) {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

type recObserver struct {
	mu      sync.Mutex
	started int
	ended   int
	loadErr error
	saves   int
	submits []error
}

func (o *recObserver) SessionStarted(Info) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recObserver) SessionEnded(Info) {
	o.mu.Lock()
	o.ended++
	o.mu.Unlock()
}

func (o *recObserver) LoadFailed(_ Info, err error) {
	o.mu.Lock()
	o.loadErr = err
	o.mu.Unlock()
}
func (o *recObserver) SaveDone(Info, apiservice.SaveRequest, error) {
	o.mu.Lock()
	o.saves++
	o.mu.Unlock()
}
func (o *recObserver) SubmitDone(_ Info, _ string, err error) {
	o.mu.Lock()
	o.submits = append(o.submits, err)
	o.mu.Unlock()
}

var errUpstream = errors.New("upstream 503")

func sampleTest(n, limit int) apiservice.Test {
	t := apiservice.Test{ID: "ti-1", Name: "Physics drill", TimeLimitSec: limit}
	for i := 0; i < n; i++ {
		t.Questions = append(t.Questions, apiservice.Question{
			ID:     fmt.Sprintf("q%d", i+1),
			Prompt: fmt.Sprintf("Question %d: find $v$", i+1),
			Options: []apiservice.Option{
				{Label: "A", Text: "1"}, {Label: "B", Text: "2"},
				{Label: "C", Text: "3"}, {Label: "D", Text: "4"},
			},
		})
	}
	return t
}

type harness struct {
	clock   *fakeClock
	backend *fakeBackend
	sink    *recSink
	obs     *recObserver
	sess    *Session
}

const (
	tickEvery = time.Second
	saveEvery = 10 * time.Second
)

func startHarness(t *testing.T, kind Kind, b *fakeBackend) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), backend: b, sink: newRecSink(), obs: &recObserver{}}
	s, err := Start(context.Background(),
		Info{SessionID: "s-1", Owner: "stu-1", TestInstanceID: "ti-1", Kind: kind},
		Config{TickInterval: tickEvery, AutosaveInterval: saveEvery},
		Deps{
			Backend:  b,
			Clock:    h.clock,
			Dispatch: DispatchFunc(func(task func()) { task() }),
			Sink:     h.sink,
			Observer: h.obs,
		})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.sess = s
	t.Cleanup(func() {
		if b.submitGate != nil {
			select {
			case <-b.submitGate:
			default:
				close(b.submitGate)
			}
		}
		_ = s.Close(context.Background())
	})
	return h
}

func (h *harness) snap(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.sess.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}
