package session

import (
	"context"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/examprep/internal/apiservice"
)

// Start loads the test and its saved progress and starts the session loop.
// When the time limit is already used up the submission begins before Start
// returns, without waiting for a tick.
func Start(ctx context.Context, info Info, cfg Config, deps Deps) (*Session, error) {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()

	var (
		test apiservice.Test
		prog apiservice.Progress
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		test, err = deps.Backend.GetAITest(gctx, info.TestInstanceID)
		return err
	})
	g.Go(func() error {
		var err error
		prog, err = deps.Backend.GetSavedProgress(gctx, info.TestInstanceID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, loadFailed(info, deps, err)
	}
	if len(test.Questions) == 0 {
		return nil, loadFailed(info, deps, ErrNoQuestions)
	}
	if deps.Signer != nil {
		signImages(ctx, deps.Signer, test.Questions)
	}

	s := &Session{
		info:      info,
		cfg:       cfg,
		deps:      deps,
		test:      test,
		ctx:       context.WithoutCancel(ctx),
		answers:   make(map[string]*string, len(test.Questions)),
		remaining: test.TimeLimitSec - prog.TotalTime,
		running:   true,
		phase:     PhaseRunning,
		lastFlush: deps.Clock.Now(),
		cmds:      make(chan command),
		results:   make(chan submitOutcome),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, q := range test.Questions {
		if sel, ok := prog.Answers[q.ID]; ok {
			s.answers[q.ID] = sel
		}
	}
	s.countdown = deps.Clock.NewTicker(cfg.TickInterval)
	s.startAutosave()
	deps.Observer.SessionStarted(info)

	if s.remaining <= 0 {
		s.beginSubmit()
	}
	go s.run()
	return s, nil
}

func loadFailed(info Info, deps Deps, err error) error {
	log.Printf("session %s: load %s: %v", info.SessionID, info.TestInstanceID, err)
	deps.Observer.LoadFailed(info, err)
	return &LoadError{TestInstanceID: info.TestInstanceID, Err: err}
}

// signImages rewrites relative image keys into fetchable URLs. A key that
// cannot be signed is left as is.
func signImages(ctx context.Context, signer ImageSigner, qs []apiservice.Question) {
	for i := range qs {
		key := qs[i].ImageURL
		if key == "" || strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
			continue
		}
		u, err := signer.SignedURL(ctx, key)
		if err != nil {
			log.Printf("sign image %s: %v", key, err)
			continue
		}
		qs[i].ImageURL = u
	}
}
