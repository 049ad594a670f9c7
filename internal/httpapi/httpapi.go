// Package httpapi is the service's small HTTP surface: unauthenticated
// liveness/readiness probes and a JWT-authenticated status endpoint
// reporting the active map and queue depth, grounded on the teacher's
// /healthz, /readyz, /debug mux wiring.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"mailclerk/internal/activemap"
	"mailclerk/internal/auth"
	"mailclerk/internal/promptqueue"
	"mailclerk/internal/ratelimit"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the mux; it owns no listener, Serve (in package app)
// does.
type Server struct {
	Store     Pinger
	ActiveMap *activemap.Map
	Queue     *promptqueue.Queue
	Limiters  *ratelimit.Limiters
	Auth      *auth.Service
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type processorStatus struct {
	Email          string `json:"email"`
	Status         string `json:"status"`
	ProcessedCount int64  `json:"processed_count"`
	FailedCount    int64  `json:"failed_count"`
	TokensUsed     int64  `json:"tokens_used"`
}

type statusResponse struct {
	ActiveProcessors int               `json:"active_processors"`
	TotalProcessed   int64             `json:"total_emails_processed"`
	QueueInFlight    int               `json:"queue_in_processing"`
	MailBucket       string            `json:"mail_bucket"`
	ClassifyBucket   string            `json:"classify_bucket"`
	Processors       []processorStatus `json:"processors"`
}

// handleStatus requires a valid bearer token scoped status:read.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "unconfigured", "auth not configured")
		return
	}
	principal, err := s.Auth.AuthenticateRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	if err := auth.ValidateScopes(principal, "status:read"); err != nil {
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
		return
	}

	entries := s.ActiveMap.Entries()
	resp := statusResponse{
		ActiveProcessors: len(entries),
		TotalProcessed:   s.ActiveMap.TotalEmailsProcessed(),
		QueueInFlight:    s.Queue.NumInProcessing(),
	}
	if s.Limiters != nil {
		resp.MailBucket = s.Limiters.Mail.Status()
		resp.ClassifyBucket = s.Limiters.Classification.Status()
	}
	for _, p := range entries {
		resp.Processors = append(resp.Processors, processorStatus{
			Email:          p.Email(),
			Status:         p.Status().String(),
			ProcessedCount: p.ProcessedCount(),
			FailedCount:    p.FailedCount(),
			TokensUsed:     p.CurrentTokenUsage(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// errorBody matches spec §7's user-visible failure shape.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
