package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/mind-engage/examprep/internal/apiservice"
)

// Kind is the flavour of test page a session backs. It decides which submit
// endpoint is called and where the student lands afterwards.
type Kind string

const (
	KindAITest       Kind = "ai_test"
	KindMockTest     Kind = "mock_test"
	KindQuiz         Kind = "quiz"
	KindRevisionTest Kind = "revision_test"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAITest, KindMockTest, KindQuiz, KindRevisionTest:
		return k, nil
	case "":
		return KindAITest, nil
	default:
		return "", fmt.Errorf("unknown test kind %q", s)
	}
}

// testType is the value the backend expects in submit-test calls.
func (k Kind) testType() string {
	switch k {
	case KindMockTest:
		return "mock"
	case KindRevisionTest:
		return "revision"
	}
	return ""
}

// submit calls the endpoint for the kind and returns the id of the results page.
func (k Kind) submit(ctx context.Context, b apiservice.Backend, testInstanceID string) (string, error) {
	switch k {
	case KindMockTest, KindRevisionTest:
		sum, err := b.SubmitTest(ctx, testInstanceID, k.testType())
		if err != nil {
			return "", err
		}
		if sum.TestInstanceID == "" {
			return testInstanceID, nil
		}
		return sum.TestInstanceID, nil
	default:
		if err := b.SubmitDrill(ctx, testInstanceID); err != nil {
			return "", err
		}
		return testInstanceID, nil
	}
}

// ResultRoute is the client route showing results for id.
func (k Kind) ResultRoute(id string) string {
	switch k {
	case KindMockTest:
		return "/mock-test/result/" + id
	case KindRevisionTest:
		return "/revision-test/" + id + "/result"
	case KindQuiz:
		return "/quiz/" + id + "/result"
	default:
		return "/ai-test/" + id + "/result"
	}
}

// DashboardRoute is where the client goes when a test cannot be loaded.
const DashboardRoute = "/dashboard"
