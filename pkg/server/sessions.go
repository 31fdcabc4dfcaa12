package server

import (
	"errors"
	"net/http"
	"sync"

	"github.com/zen-systems/modelgate/pkg/agent"
)

// maxSessions bounds the sessions held in memory; the oldest is evicted.
const maxSessions = 1024

var (
	errSessionNotFound = errors.New("session not found")
	errNothingToUndo   = errors.New("session history is empty")
)

// sessionStore holds agentic sessions per caller. A session is only visible
// to the subject that created it.
type sessionStore struct {
	mu    sync.Mutex
	byID  map[string]*agent.Session
	order []string
}

func newSessionStore() *sessionStore {
	return &sessionStore{byID: make(map[string]*agent.Session)}
}

func (st *sessionStore) create(subject string) *agent.Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess := agent.NewSession(subject, agent.DefaultHistoryLimit)
	st.byID[sess.ID] = sess
	st.order = append(st.order, sess.ID)
	if len(st.order) > maxSessions {
		delete(st.byID, st.order[0])
		st.order = st.order[1:]
	}
	return sess
}

func (st *sessionStore) get(id, subject string) (*agent.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.byID[id]
	if !ok || sess.Subject != subject {
		return nil, errSessionNotFound
	}
	return sess, nil
}

// SessionResponse describes a session and its history.
type SessionResponse struct {
	ID      string        `json:"id"`
	History []agent.Entry `json:"history"`
}

func sessionResponse(sess *agent.Session) SessionResponse {
	return SessionResponse{ID: sess.ID, History: sess.History()}
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(s.sessions.create(caller.Subject)))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.get(r.PathValue("id"), caller.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

func (s *Server) sessionAgenticHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.get(r.PathValue("id"), caller.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body AgenticRequest
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.PlanAgentic(r.Context(), caller, sess, body.task())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) undoHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.get(r.PathValue("id"), caller.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, ok := sess.Undo(); !ok {
		s.writeError(w, r, errNothingToUndo)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}
