package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

type ManagerConfig struct {
	Session     Config
	SaveWorkers int
	// Retention is how long a submitted session stays readable before it is reaped.
	Retention time.Duration
}

// Manager owns the live sessions of this process. Each Start creates an
// independent session, so two tabs on one test instance do not share state.
type Manager struct {
	cfg  ManagerConfig
	deps Deps
	pool *workerpool.WorkerPool

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// NewManager builds a manager whose sessions dispatch saves onto a shared
// worker pool. deps.Dispatch is ignored.
func NewManager(cfg ManagerConfig, deps Deps) *Manager {
	if cfg.SaveWorkers <= 0 {
		cfg.SaveWorkers = 8
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	m := &Manager{
		cfg:        cfg,
		pool:       workerpool.New(cfg.SaveWorkers),
		sessions:   map[string]*Session{},
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	deps.Dispatch = DispatchFunc(m.dispatch)
	m.deps = deps.withDefaults()
	go m.reapLoop()
	return m
}

// Start loads a new session. It fails with ErrSessionClosed once Shutdown has
// begun.
func (m *Manager) Start(ctx context.Context, owner, testInstanceID string, kind Kind) (*Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrSessionClosed
	}
	info := Info{
		SessionID:      uuid.NewString(),
		Owner:          owner,
		TestInstanceID: testInstanceID,
		Kind:           kind,
	}
	s, err := Start(ctx, info, m.cfg.Session, m.deps)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.Close(ctx)
		return nil, ErrSessionClosed
	}
	m.sessions[info.SessionID] = s
	m.mu.Unlock()
	log.Printf("session %s started: owner=%s test=%s kind=%s", info.SessionID, owner, testInstanceID, kind)
	return s, nil
}

// Get returns the session if subject owns it or viewAll is set.
func (m *Manager) Get(id, subject string, viewAll bool) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !viewAll && s.info.Owner != subject {
		return nil, ErrForbidden
	}
	return s, nil
}

func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return s.Close(ctx)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap closes sessions submitted more than Retention before now and returns
// how many it removed.
func (m *Manager) Reap(ctx context.Context, now time.Time) int {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range live {
		snap, err := s.Snapshot(ctx)
		if err != nil || snap.SubmittedAt == nil || now.Sub(*snap.SubmittedAt) < m.cfg.Retention {
			continue
		}
		if err := m.Close(ctx, s.info.SessionID); err == nil {
			n++
		}
	}
	return n
}

func (m *Manager) reapLoop() {
	defer close(m.reaperDone)
	every := m.cfg.Retention / 2
	if every > time.Minute {
		every = time.Minute
	}
	t := m.deps.Clock.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stopReaper:
			return
		case now := <-t.C():
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if n := m.Reap(ctx, now); n > 0 {
				log.Printf("reaped %d submitted sessions", n)
			}
			cancel()
		}
	}
}

// dispatch queues work on the save pool. Once the pool is stopping, work runs
// on its own goroutine instead.
func (m *Manager) dispatch(task func()) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		go task()
		return
	}
	m.pool.Submit(task)
}

// Shutdown closes every session, then waits for queued saves to finish.
// Later calls are no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	all := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	close(m.stopReaper)
	<-m.reaperDone

	var result *multierror.Error
	for id, s := range all {
		if err := s.Close(ctx); err != nil {
			result = multierror.Append(result, err)
			log.Printf("session %s: close: %v", id, err)
		}
	}

	drained := make(chan struct{})
	go func() {
		m.pool.StopWait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		result = multierror.Append(result, ctx.Err())
	}
	return result.ErrorOrNil()
}
