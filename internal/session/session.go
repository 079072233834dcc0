// Package session runs one timed test attempt. All mutable state is owned by a
// single goroutine that consumes commands, ticker fires and submit outcomes
// from channels; network calls run elsewhere and report back.
package session

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/mind-engage/examprep/internal/apiservice"
)

type Phase string

const (
	PhaseRunning    Phase = "running"
	PhaseSubmitting Phase = "submitting"
	PhaseSubmitted  Phase = "submitted"
	PhaseClosed     Phase = "closed"
)

// Direction moves the navigator by one question.
type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "next":
		return Next, nil
	case "prev", "previous":
		return Prev, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Snapshot is a copy of the session state; it never aliases loop-owned data.
type Snapshot struct {
	SessionID      string              `json:"session_id"`
	TestInstanceID string              `json:"test_instance_id"`
	Kind           Kind                `json:"kind"`
	Name           string              `json:"test_name"`
	Index          int                 `json:"index"`
	QuestionCount  int                 `json:"question_count"`
	Question       apiservice.Question `json:"question"`
	Answers        map[string]*string  `json:"answers"`
	Answered       int                 `json:"answered"`
	Remaining      int                 `json:"remaining"`
	Phase          Phase               `json:"phase"`
	Running        bool                `json:"running"`
	ResultRoute    string              `json:"result_route,omitempty"`
	SubmittedAt    *time.Time          `json:"submitted_at,omitempty"`
}

type command struct {
	fn    func() error
	reply chan error
}

type submitOutcome struct {
	resultID string
	err      error
}

type Session struct {
	info Info
	cfg  Config
	deps Deps
	test apiservice.Test
	// ctx carries the caller's token for upstream calls but is never cancelled.
	ctx context.Context

	// owned by run()
	index       int
	answers     map[string]*string
	remaining   int
	running     bool
	phase       Phase
	lastFlush   time.Time
	resultRoute string
	submittedAt time.Time
	countdown   Ticker
	autosave    Ticker

	cmds      chan command
	results   chan submitOutcome
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Session) Info() Info { return s.info }

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Select(ctx context.Context, label string) error {
	return s.do(ctx, func() error {
		if !s.running {
			return ErrNotRunning
		}
		q := s.test.Questions[s.index]
		if !q.HasOption(label) {
			return fmt.Errorf("%w: %q", ErrUnknownOption, label)
		}
		l := label
		s.answers[q.ID] = &l
		s.flush(s.index)
		s.publishState()
		return nil
	})
}

func (s *Session) Navigate(ctx context.Context, dir Direction) error {
	return s.do(ctx, func() error {
		if !s.running {
			return ErrNotRunning
		}
		s.moveTo(s.index + int(dir))
		return nil
	})
}

// Goto jumps to a question by index; out of range values are clamped.
func (s *Session) Goto(ctx context.Context, index int) error {
	return s.do(ctx, func() error {
		if !s.running {
			return ErrNotRunning
		}
		s.moveTo(index)
		return nil
	})
}

// Submit starts submission and returns without waiting for the network.
// It returns ErrNotRunning when a submission is already under way or done.
func (s *Session) Submit(ctx context.Context) error {
	return s.do(ctx, func() error {
		if !s.running {
			return ErrNotRunning
		}
		s.beginSubmit()
		return nil
	})
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// Close stops both tickers and ends the loop. Requests already in flight are
// left to finish on their own.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) do(ctx context.Context, fn func() error) error {
	c := command{fn: fn, reply: make(chan error, 1)}
	select {
	case s.cmds <- c:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// the loop always answers a command it has received
	return <-c.reply
}

func (s *Session) run() {
	defer func() {
		s.stopAutosave()
		s.stopCountdown()
		s.phase = PhaseClosed
		s.deps.Observer.SessionEnded(s.info)
		close(s.done)
	}()
	for {
		select {
		case <-s.stop:
			return
		case <-s.countdownC():
			s.onTick()
		case <-s.autosaveC():
			s.onAutosave()
		case c := <-s.cmds:
			c.reply <- c.fn()
		case out := <-s.results:
			s.onSubmitDone(out)
		}
	}
}

func (s *Session) onTick() {
	if !s.running {
		return
	}
	if s.remaining > 0 {
		s.remaining--
	}
	s.deps.Sink.Publish(s.info.SessionID, Event{Type: EventTick, Remaining: s.remaining})
	if s.remaining <= 0 {
		s.beginSubmit()
	}
}

func (s *Session) onAutosave() {
	if !s.running {
		return
	}
	if s.elapsed() == 0 {
		return
	}
	s.flush(s.index)
}

func (s *Session) moveTo(target int) {
	if target < 0 {
		target = 0
	}
	if n := len(s.test.Questions); target > n-1 {
		target = n - 1
	}
	s.flush(s.index)
	s.index = target
	s.publishState()
}

// elapsed is the number of whole seconds since the last flush.
func (s *Session) elapsed() int {
	d := s.deps.Clock.Now().Sub(s.lastFlush)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// saveRequest builds a save for question idx and advances the flush mark by
// the whole seconds it reports.
func (s *Session) saveRequest(idx int) apiservice.SaveRequest {
	q := s.test.Questions[idx]
	chunk := s.elapsed()
	s.lastFlush = s.lastFlush.Add(time.Duration(chunk) * time.Second)
	req := apiservice.SaveRequest{
		TestInstanceID: s.info.TestInstanceID,
		QuestionID:     q.ID,
		TimeSpent:      chunk,
	}
	if sel := s.answers[q.ID]; sel != nil {
		v := *sel
		req.Selected = &v
	}
	return req
}

// flush hands a save to the dispatcher and returns immediately.
func (s *Session) flush(idx int) {
	req := s.saveRequest(idx)
	ctx, info, backend, obs := s.ctx, s.info, s.deps.Backend, s.deps.Observer
	s.deps.Dispatch.Submit(func() {
		err := backend.SaveProgress(ctx, req)
		if err != nil {
			log.Printf("session %s: save %s/%s: %v", info.SessionID, req.TestInstanceID, req.QuestionID, err)
		}
		obs.SaveDone(info, req, err)
	})
}

func (s *Session) beginSubmit() {
	if !s.running {
		return
	}
	s.running = false
	s.phase = PhaseSubmitting
	s.stopAutosave()
	final := s.saveRequest(s.index)
	s.publishState()

	ctx, info, backend, obs := s.ctx, s.info, s.deps.Backend, s.deps.Observer
	results, done := s.results, s.done
	go func() {
		err := backend.SaveProgress(ctx, final)
		if err != nil {
			log.Printf("session %s: final save %s: %v", info.SessionID, info.TestInstanceID, err)
		}
		obs.SaveDone(info, final, err)

		resultID, err := info.Kind.submit(ctx, backend, info.TestInstanceID)
		if err != nil {
			log.Printf("session %s: submit %s: %v", info.SessionID, info.TestInstanceID, err)
		}
		obs.SubmitDone(info, resultID, err)
		select {
		case results <- submitOutcome{resultID: resultID, err: err}:
		case <-done:
		}
	}()
}

func (s *Session) onSubmitDone(out submitOutcome) {
	if out.err != nil {
		s.running = true
		s.phase = PhaseRunning
		s.startAutosave()
		s.deps.Sink.Publish(s.info.SessionID, Event{
			Type: EventToast, Level: "error", Message: "Failed to submit test. Please try again.",
		})
		s.publishState()
		return
	}
	s.phase = PhaseSubmitted
	s.submittedAt = s.deps.Clock.Now()
	s.resultRoute = s.info.Kind.ResultRoute(out.resultID)
	s.stopCountdown()
	s.publishState()
	s.deps.Sink.Publish(s.info.SessionID, Event{Type: EventToast, Level: "info", Message: "Test submitted successfully."})
	s.deps.Sink.Publish(s.info.SessionID, Event{Type: EventRedirect, Route: s.resultRoute})
}

func (s *Session) publishState() {
	snap := s.snapshot()
	s.deps.Sink.Publish(s.info.SessionID, Event{Type: EventState, State: &snap})
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		SessionID:      s.info.SessionID,
		TestInstanceID: s.info.TestInstanceID,
		Kind:           s.info.Kind,
		Name:           s.test.Name,
		Index:          s.index,
		QuestionCount:  len(s.test.Questions),
		Question:       s.test.Questions[s.index],
		Answers:        make(map[string]*string, len(s.answers)),
		Remaining:      max(s.remaining, 0),
		Phase:          s.phase,
		Running:        s.running,
		ResultRoute:    s.resultRoute,
	}
	snap.Question.Options = slices.Clone(snap.Question.Options)
	for k, v := range s.answers {
		if v != nil {
			c := *v
			snap.Answers[k] = &c
			snap.Answered++
		} else {
			snap.Answers[k] = nil
		}
	}
	if !s.submittedAt.IsZero() {
		t := s.submittedAt
		snap.SubmittedAt = &t
	}
	return snap
}

func (s *Session) startAutosave() {
	if s.autosave == nil {
		s.autosave = s.deps.Clock.NewTicker(s.cfg.AutosaveInterval)
	}
}

func (s *Session) stopAutosave() {
	if s.autosave != nil {
		s.autosave.Stop()
		s.autosave = nil
	}
}

func (s *Session) stopCountdown() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
}

// nil channels block forever, which disables the matching select case.
func (s *Session) autosaveC() <-chan time.Time {
	if s.autosave == nil {
		return nil
	}
	return s.autosave.C()
}

func (s *Session) countdownC() <-chan time.Time {
	if s.countdown == nil {
		return nil
	}
	return s.countdown.C()
}
