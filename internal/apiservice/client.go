package apiservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/pkg/errors"
)

var _ Backend = (*Client)(nil)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client calls the remote exam API over HTTP.
type Client struct {
	http *req.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	h := req.C().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal).
		SetCommonHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		h.SetUserAgent(cfg.UserAgent)
	}
	return &Client{http: h}
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (c *Client) GetAITest(ctx context.Context, testInstanceID string) (Test, error) {
	var t Test
	resp, err := c.request(ctx).
		SetPathParam("id", testInstanceID).
		SetSuccessResult(&t).
		Get("/tests/{id}")
	if err = check("get test", resp, err); err != nil {
		return Test{}, errors.Wrapf(err, "failed to get test %v", testInstanceID)
	}
	if t.ID == "" {
		t.ID = testInstanceID
	}
	return t, nil
}

func (c *Client) GetSavedProgress(ctx context.Context, testInstanceID string) (Progress, error) {
	var p Progress
	resp, err := c.request(ctx).
		SetPathParam("id", testInstanceID).
		SetSuccessResult(&p).
		Get("/tests/{id}/progress")
	if err = check("get progress", resp, err); err != nil {
		return Progress{}, errors.Wrapf(err, "failed to get saved progress for %v", testInstanceID)
	}
	if p.Answers == nil {
		p.Answers = map[string]*string{}
	}
	return p, nil
}

func (c *Client) SaveProgress(ctx context.Context, sr SaveRequest) error {
	resp, err := c.request(ctx).
		SetPathParam("id", sr.TestInstanceID).
		SetBodyJsonMarshal(sr).
		Post("/tests/{id}/progress")
	return errors.Wrapf(check("save progress", resp, err),
		"failed to save progress for %v question %v", sr.TestInstanceID, sr.QuestionID)
}

func (c *Client) SubmitDrill(ctx context.Context, testInstanceID string) error {
	resp, err := c.request(ctx).
		SetPathParam("id", testInstanceID).
		Post("/tests/{id}/submit-drill")
	return errors.Wrapf(check("submit drill", resp, err), "failed to submit drill %v", testInstanceID)
}

func (c *Client) SubmitTest(ctx context.Context, testInstanceID, testType string) (SubmitSummary, error) {
	var out struct {
		Summary SubmitSummary `json:"summary"`
	}
	resp, err := c.request(ctx).
		SetPathParam("id", testInstanceID).
		SetBodyJsonMarshal(map[string]string{"test_type": testType}).
		SetSuccessResult(&out).
		Post("/tests/{id}/submit")
	if err = check("submit test", resp, err); err != nil {
		return SubmitSummary{}, errors.Wrapf(err, "failed to submit test %v", testInstanceID)
	}
	return out.Summary, nil
}

func (c *Client) request(ctx context.Context) *req.Request {
	r := c.http.R().SetContext(ctx)
	if tok := TokenFromContext(ctx); tok != "" {
		r.SetBearerAuthToken(tok)
	}
	return r
}

func check(op string, resp *req.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsSuccessState() {
		return &StatusError{Op: op, StatusCode: resp.GetStatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return nil
}
