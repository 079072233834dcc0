// Package journal keeps an audit trail of session outcomes in the event_log
// table. Answers themselves live on the exam API; nothing here is replayed.
package journal

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/goccy/go-json"

	"github.com/mind-engage/examprep/internal/apiservice"
	"github.com/mind-engage/examprep/internal/session"
)

const (
	TypeSessionStarted   = "SessionStarted"
	TypeSessionClosed    = "SessionClosed"
	TypeSessionSubmitted = "SessionSubmitted"
	TypeSubmitFailed     = "SubmitFailed"
	TypeSaveFailed       = "SaveFailed"
	TypeLoadFailed       = "LoadFailed"
)

type Event struct {
	Seq            int64           `json:"seq"`
	Type           string          `json:"type"`
	SessionID      string          `json:"session_id"`
	TestInstanceID string          `json:"test_instance_id"`
	Owner          string          `json:"owner"`
	Data           json.RawMessage `json:"data"`
	CreatedAt      int64           `json:"created_at"`
}

type Repo struct {
	db      *sql.DB
	timeout time.Duration
}

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db, timeout: 5 * time.Second} }

func (r *Repo) Append(ctx context.Context, e Event) error {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, session_id, test_instance_id, owner, data, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		e.Type, e.SessionID, e.TestInstanceID, e.Owner, string(data), time.Now().Unix())
	return err
}

// List returns events for a test instance, oldest first.
func (r *Repo) List(ctx context.Context, testInstanceID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, typ, session_id, test_instance_id, owner, data, created_at
		 FROM event_log WHERE test_instance_id = $1 ORDER BY seq LIMIT $2`,
		testInstanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e    Event
			data string
		)
		if err := rows.Scan(&e.Seq, &e.Type, &e.SessionID, &e.TestInstanceID, &e.Owner, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Observer records session outcomes. Successful autosaves are not journaled.
type Observer struct{ repo *Repo }

func NewObserver(repo *Repo) *Observer { return &Observer{repo: repo} }

var _ session.Observer = (*Observer)(nil)

func (o *Observer) SessionStarted(info session.Info) {
	o.append(TypeSessionStarted, info, map[string]any{"kind": info.Kind})
}

func (o *Observer) SessionEnded(info session.Info) {
	o.append(TypeSessionClosed, info, nil)
}

func (o *Observer) LoadFailed(info session.Info, err error) {
	o.append(TypeLoadFailed, info, map[string]any{"error": err.Error()})
}

func (o *Observer) SaveDone(info session.Info, req apiservice.SaveRequest, err error) {
	if err == nil {
		return
	}
	o.append(TypeSaveFailed, info, map[string]any{
		"question_id": req.QuestionID,
		"selected":    req.Selected,
		"time_spent":  req.TimeSpent,
		"error":       err.Error(),
	})
}

func (o *Observer) SubmitDone(info session.Info, resultID string, err error) {
	if err != nil {
		o.append(TypeSubmitFailed, info, map[string]any{"error": err.Error()})
		return
	}
	o.append(TypeSessionSubmitted, info, map[string]any{"result_id": resultID})
}

func (o *Observer) append(typ string, info session.Info, payload map[string]any) {
	var data []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Printf("journal: marshal %s: %v", typ, err)
			return
		}
		data = b
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.repo.timeout)
	defer cancel()
	err := o.repo.Append(ctx, Event{
		Type:           typ,
		SessionID:      info.SessionID,
		TestInstanceID: info.TestInstanceID,
		Owner:          info.Owner,
		Data:           data,
	})
	if err != nil {
		log.Printf("journal: append %s for session %s: %v", typ, info.SessionID, err)
	}
}
