package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ernie/spinboard/internal/domain"
	"github.com/ernie/spinboard/internal/scores"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleGetLeaderboard fetches a fresh board
func (r *Router) handleGetLeaderboard(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, r.app.Config.Leaderboard.Limit, maxLimit)
	writeJSON(w, http.StatusOK, r.app.Leaderboard(req.Context(), limit))
}

// handleGetCurrentLeaderboard returns the board the poller last displayed
func (r *Router) handleGetCurrentLeaderboard(w http.ResponseWriter, req *http.Request) {
	board, ok := r.app.Poller.Current()
	if !ok {
		board = r.app.Poller.Refresh(req.Context())
	}
	writeJSON(w, http.StatusOK, board)
}

type identityResponse struct {
	SessionID string `json:"session_id"`
	Handle    string `json:"handle,omitempty"`
	Bound     bool   `json:"bound"`
}

// handleGetIdentity returns the bound handle
func (r *Router) handleGetIdentity(w http.ResponseWriter, req *http.Request) {
	h, ok := r.app.Session.Handle()
	writeJSON(w, http.StatusOK, identityResponse{
		SessionID: r.app.Session.ID(),
		Handle:    h,
		Bound:     ok,
	})
}

type registerRequest struct {
	Handle string `json:"handle"`
}

type rejectionResponse struct {
	Admitted bool   `json:"admitted"`
	Error    string `json:"error"`
	Kind     string `json:"kind"`
}

// handleRegisterIdentity runs one admission attempt. Refusals come back as
// 422 with the reason to show the player.
func (r *Router) handleRegisterIdentity(w http.ResponseWriter, req *http.Request) {
	var body registerRequest
	if err := decodeBody(w, req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := r.app.Registrar.Admit(req.Context(), body.Handle)
	var rejection *domain.Rejection
	switch {
	case errors.As(err, &rejection):
		writeJSON(w, http.StatusUnprocessableEntity, rejectionResponse{
			Error: rejection.Reason,
			Kind:  rejectionKind(rejection),
		})
	case err != nil:
		r.logger.Error("registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register handle")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func rejectionKind(rejection *domain.Rejection) string {
	switch {
	case errors.Is(rejection, domain.ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(rejection, domain.ErrPolicyRejected):
		return "policy_rejected"
	case errors.Is(rejection, domain.ErrHandleTaken):
		return "handle_taken"
	}
	return "rejected"
}

// handleSignOut clears the bound handle
func (r *Router) handleSignOut(w http.ResponseWriter, req *http.Request) {
	if err := r.app.SignOut(); err != nil {
		r.logger.Error("sign out failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	Score *int64 `json:"score"`
}

type submitResponse struct {
	OK bool `json:"ok"`
	scores.Receipt
}

// handleSubmitScore records a score for the bound handle
func (r *Router) handleSubmitScore(w http.ResponseWriter, req *http.Request) {
	var body submitRequest
	if err := decodeBody(w, req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Score == nil {
		writeError(w, http.StatusBadRequest, "score is required")
		return
	}

	receipt, err := r.app.SubmitScore(req.Context(), *body.Score)
	switch {
	case errors.Is(err, domain.ErrNoIdentity):
		writeError(w, http.StatusConflict, "register a handle before submitting scores")
	case errors.Is(err, domain.ErrInvalidScore):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		r.logger.Error("score submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, scores.NoticeFailed)
	default:
		writeJSON(w, http.StatusOK, submitResponse{OK: true, Receipt: receipt})
	}
}

// handleHealth returns a simple health check response
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
