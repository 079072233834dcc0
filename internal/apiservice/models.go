package apiservice

import "context"

type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"` // may contain math markup; rendered client side
}

type Question struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"question"`
	Options  []Option `json:"options"`
	ImageURL string   `json:"image_url,omitempty"`
}

// HasOption reports whether label is one of the question's option labels.
func (q Question) HasOption(label string) bool {
	for _, o := range q.Options {
		if o.Label == label {
			return true
		}
	}
	return false
}

type Test struct {
	ID           string     `json:"test_instance_id,omitempty"`
	Name         string     `json:"testName"`
	TimeLimitSec int        `json:"timeLimit"` // seconds
	Questions    []Question `json:"questions"`
}

// Progress is what the backend has saved for an instance so far.
// A nil answer means the question was visited but left unattempted.
type Progress struct {
	Answers   map[string]*string `json:"answers"`
	TotalTime int                `json:"totalTime"` // seconds already spent
}

type SaveRequest struct {
	TestInstanceID string  `json:"-"`
	QuestionID     string  `json:"question_id"`
	Selected       *string `json:"selected_option"`
	TimeSpent      int     `json:"time_spent"` // chunk since previous flush, seconds
}

type SubmitSummary struct {
	TestInstanceID string `json:"testInstanceId"`
}

// Backend is the remote exam API. Scoring, persistence and analytics live behind it.
type Backend interface {
	GetAITest(ctx context.Context, testInstanceID string) (Test, error)
	GetSavedProgress(ctx context.Context, testInstanceID string) (Progress, error)
	SaveProgress(ctx context.Context, req SaveRequest) error
	SubmitDrill(ctx context.Context, testInstanceID string) error
	SubmitTest(ctx context.Context, testInstanceID, testType string) (SubmitSummary, error)
}
