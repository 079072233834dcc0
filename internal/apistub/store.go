// Package apistub is a development stand-in for the remote exam API. It serves
// fixture tests and keeps saved progress in memory. It does not score anything.
package apistub

import (
	"errors"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mind-engage/examprep/internal/apiservice"
)

var (
	ErrTestNotFound     = errors.New("test not found")
	ErrAlreadySubmitted = errors.New("test already submitted")
	ErrInjected         = errors.New("injected failure")
)

type Op string

const (
	OpGetTest      Op = "get_test"
	OpGetProgress  Op = "get_progress"
	OpSaveProgress Op = "save_progress"
	OpSubmit       Op = "submit"
)

type fixtureFile struct {
	Tests []fixtureTest `yaml:"tests"`
}

type fixtureTest struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	TimeLimitSec int               `yaml:"time_limit_sec"`
	ElapsedSec   int               `yaml:"elapsed_sec"`
	Questions    []fixtureQuestion `yaml:"questions"`
}

type fixtureQuestion struct {
	ID       string            `yaml:"id"`
	Text     string            `yaml:"text"`
	ImageURL string            `yaml:"image_url"`
	Options  map[string]string `yaml:"options"`
	Order    []string          `yaml:"order"` // option label order; defaults to A,B,C,D
}

type progress struct {
	answers   map[string]*string
	totalTime int
	submitted bool
	saves     int
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	tests    map[string]apiservice.Test
	progress map[string]*progress
	failures map[Op]int
}

func NewStore() *Store {
	return &Store{
		tests:    map[string]apiservice.Test{},
		progress: map[string]*progress{},
		failures: map[Op]int{},
	}
}

// LoadFile reads a YAML fixture file into the store.
func (s *Store) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Load(f)
}

func (s *Store) Load(r io.Reader) error {
	var ff fixtureFile
	if err := yaml.NewDecoder(r).Decode(&ff); err != nil {
		return err
	}
	for _, ft := range ff.Tests {
		t := apiservice.Test{ID: ft.ID, Name: ft.Name, TimeLimitSec: ft.TimeLimitSec}
		for _, fq := range ft.Questions {
			q := apiservice.Question{ID: fq.ID, Prompt: fq.Text, ImageURL: fq.ImageURL}
			order := fq.Order
			if len(order) == 0 {
				order = []string{"A", "B", "C", "D"}
			}
			for _, label := range order {
				if text, ok := fq.Options[label]; ok {
					q.Options = append(q.Options, apiservice.Option{Label: label, Text: text})
				}
			}
			t.Questions = append(t.Questions, q)
		}
		s.PutTest(t)
		if ft.ElapsedSec > 0 {
			s.mu.Lock()
			s.progress[t.ID].totalTime = ft.ElapsedSec
			s.mu.Unlock()
		}
	}
	return nil
}

// PutTest registers a test and resets its progress.
func (s *Store) PutTest(t apiservice.Test) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests[t.ID] = t
	s.progress[t.ID] = &progress{answers: map[string]*string{}}
}

// Fail makes the next n calls of op fail with ErrInjected.
func (s *Store) Fail(op Op, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

func (s *Store) injected(op Op) bool {
	if s.failures[op] > 0 {
		s.failures[op]--
		return true
	}
	return false
}

func (s *Store) GetTest(id string) (apiservice.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injected(OpGetTest) {
		return apiservice.Test{}, ErrInjected
	}
	t, ok := s.tests[id]
	if !ok {
		return apiservice.Test{}, ErrTestNotFound
	}
	return t, nil
}

func (s *Store) GetProgress(id string) (apiservice.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injected(OpGetProgress) {
		return apiservice.Progress{}, ErrInjected
	}
	p, ok := s.progress[id]
	if !ok {
		return apiservice.Progress{}, ErrTestNotFound
	}
	out := apiservice.Progress{Answers: make(map[string]*string, len(p.answers)), TotalTime: p.totalTime}
	for k, v := range p.answers {
		out.Answers[k] = v
	}
	return out, nil
}

// SaveProgress is last-write-wins per question; time chunks accumulate.
func (s *Store) SaveProgress(sr apiservice.SaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injected(OpSaveProgress) {
		return ErrInjected
	}
	p, ok := s.progress[sr.TestInstanceID]
	if !ok {
		return ErrTestNotFound
	}
	if p.submitted {
		return ErrAlreadySubmitted
	}
	if sr.QuestionID != "" {
		p.answers[sr.QuestionID] = sr.Selected
	}
	if sr.TimeSpent > 0 {
		p.totalTime += sr.TimeSpent
	}
	p.saves++
	return nil
}

// Submit marks the instance submitted. Submitting twice is not an error.
func (s *Store) Submit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injected(OpSubmit) {
		return ErrInjected
	}
	p, ok := s.progress[id]
	if !ok {
		return ErrTestNotFound
	}
	p.submitted = true
	return nil
}

// Stats returns the number of accepted saves and whether the instance is submitted.
func (s *Store) Stats(id string) (saves int, submitted bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.progress[id]; ok {
		return p.saves, p.submitted
	}
	return 0, false
}
