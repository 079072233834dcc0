package session

import (
	"context"
	"time"

	"github.com/mind-engage/examprep/internal/apiservice"
)

// Event is pushed to whoever renders the session (websocket stream in production).
type Event struct {
	Type      string    `json:"type"` // tick|toast|redirect|state
	Remaining int       `json:"remaining,omitempty"`
	Level     string    `json:"level,omitempty"` // info|error
	Message   string    `json:"message,omitempty"`
	Route     string    `json:"route,omitempty"`
	State     *Snapshot `json:"state,omitempty"`
}

const (
	EventTick     = "tick"
	EventToast    = "toast"
	EventRedirect = "redirect"
	EventState    = "state"
)

// Sink receives session events. Publish is called from the session loop and
// must not block.
type Sink interface {
	Publish(sessionID string, ev Event)
}

// Dispatcher runs fire-and-forget work. *workerpool.WorkerPool satisfies it.
type Dispatcher interface {
	Submit(task func())
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(task func())

func (f DispatchFunc) Submit(task func()) { f(task) }

// ImageSigner turns stored image keys into URLs the browser can fetch.
type ImageSigner interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

// Info identifies a session in observer callbacks. All fields are immutable.
type Info struct {
	SessionID      string
	Owner          string
	TestInstanceID string
	Kind           Kind
}

// Observer is notified of session outcomes. Callbacks run outside the session
// loop and may do I/O.
type Observer interface {
	SessionStarted(info Info)
	SessionEnded(info Info)
	LoadFailed(info Info, err error)
	SaveDone(info Info, req apiservice.SaveRequest, err error)
	SubmitDone(info Info, resultID string, err error)
}

// Observers fans out to every member.
type Observers []Observer

func (o Observers) SessionStarted(info Info) {
	for _, x := range o {
		x.SessionStarted(info)
	}
}

func (o Observers) SessionEnded(info Info) {
	for _, x := range o {
		x.SessionEnded(info)
	}
}

func (o Observers) LoadFailed(info Info, err error) {
	for _, x := range o {
		x.LoadFailed(info, err)
	}
}

func (o Observers) SaveDone(info Info, req apiservice.SaveRequest, err error) {
	for _, x := range o {
		x.SaveDone(info, req, err)
	}
}

func (o Observers) SubmitDone(info Info, resultID string, err error) {
	for _, x := range o {
		x.SubmitDone(info, resultID, err)
	}
}

type Config struct {
	TickInterval     time.Duration
	AutosaveInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = 10 * time.Second
	}
	return c
}

type Deps struct {
	Backend  apiservice.Backend
	Clock    Clock
	Dispatch Dispatcher
	Sink     Sink
	Observer Observer
	Signer   ImageSigner // optional
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Dispatch == nil {
		d.Dispatch = DispatchFunc(func(task func()) { go task() })
	}
	if d.Sink == nil {
		d.Sink = nopSink{}
	}
	if d.Observer == nil {
		d.Observer = Observers(nil)
	}
	return d
}

type nopSink struct{}

func (nopSink) Publish(string, Event) {}
