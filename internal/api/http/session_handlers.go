package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/examprep/internal/auth/middleware"
	"github.com/mind-engage/examprep/internal/journal"
	"github.com/mind-engage/examprep/internal/rbac"
	"github.com/mind-engage/examprep/internal/session"
)

func StartSessionHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TestInstanceID string `json:"test_instance_id"`
			Kind           string `json:"kind"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.TestInstanceID == "" {
			http.Error(w, "test_instance_id required", http.StatusBadRequest)
			return
		}
		kind, err := session.ParseKind(req.Kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sess, err := m.Start(r.Context(), auth.SubjectFromContext(r.Context()), req.TestInstanceID, kind)
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		snap, err := sess.Snapshot(r.Context())
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, snap)
	}
}

func GetSessionHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := lookup(m, r)
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		respondSnapshot(w, r, sess, http.StatusOK)
	}
}

func SelectHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Label string `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == "" {
			http.Error(w, "label required", http.StatusBadRequest)
			return
		}
		sess, err := lookup(m, r)
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		if err := sess.Select(r.Context(), req.Label); err != nil {
			writeSessionErr(w, err)
			return
		}
		respondSnapshot(w, r, sess, http.StatusOK)
	}
}

// NavigateHandler accepts {"direction":"next|prev"} or {"index":n}.
func NavigateHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Direction string `json:"direction"`
			Index     *int   `json:"index"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		sess, err := lookup(m, r)
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		if req.Index != nil {
			err = sess.Goto(r.Context(), *req.Index)
		} else {
			dir, perr := session.ParseDirection(req.Direction)
			if perr != nil {
				http.Error(w, perr.Error(), http.StatusBadRequest)
				return
			}
			err = sess.Navigate(r.Context(), dir)
		}
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		respondSnapshot(w, r, sess, http.StatusOK)
	}
}

// SubmitHandler answers 202 as soon as submission has begun; the outcome
// arrives on the stream as a redirect or an error toast.
func SubmitHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := lookup(m, r)
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		if err := sess.Submit(r.Context()); err != nil {
			writeSessionErr(w, err)
			return
		}
		respondSnapshot(w, r, sess, http.StatusAccepted)
	}
}

// CloseSessionHandler lets the owner tear down an attempt. Watching every
// session is not enough; others need session:close-any.
func CloseSessionHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := m.Get(chi.URLParam(r, "sessionID"), auth.SubjectFromContext(ctx), rbac.Can(ctx, rbac.PermSessionCloseAny))
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		if err := m.Close(r.Context(), sess.Info().SessionID); err != nil {
			writeSessionErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func JournalHandler(repo *journal.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := repo.List(r.Context(), chi.URLParam(r, "testInstanceID"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []journal.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func lookup(m *session.Manager, r *http.Request) (*session.Session, error) {
	ctx := r.Context()
	return m.Get(chi.URLParam(r, "sessionID"), auth.SubjectFromContext(ctx), rbac.Can(ctx, rbac.PermSessionViewAll))
}

func respondSnapshot(w http.ResponseWriter, r *http.Request, sess *session.Session, status int) {
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		writeSessionErr(w, err)
		return
	}
	writeJSON(w, status, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSessionErr(w http.ResponseWriter, err error) {
	var le *session.LoadError
	switch {
	case errors.As(err, &le):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":    "Failed to load test.",
			"detail":   le.Err.Error(),
			"redirect": session.DashboardRoute,
		})
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrSessionClosed):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, session.ErrNotRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrUnknownOption):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
