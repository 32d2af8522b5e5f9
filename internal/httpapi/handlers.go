// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/memberd/memberd/pkg/errutil"
)

// errorBody is the JSON error response.
type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type registerRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type registerResponse struct {
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	RegisteredAt time.Time `json:"registered_at"`
}

type resendRequest struct {
	UserID string `json:"user_id"`
}

type resetRequestBody struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type resetProbeResponse struct {
	Valid bool `json:"valid"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	m, err := s.svc.Register(r.Context(), req.UserID, req.UserName, req.Phone, req.Password)
	if err != nil {
		s.countRegistration(errCode(err))
		s.writeError(w, r, err)
		return
	}
	s.countRegistration("created")

	s.writeJSON(w, http.StatusCreated, registerResponse{
		UserID:       m.UserID,
		UserName:     m.UserName,
		RegisteredAt: m.RegisteredAt,
	})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("id")

	if err := s.svc.VerifyEmail(r.Context(), token); err != nil {
		s.countVerification(errCode(err))
		s.writeError(w, r, err)
		return
	}
	s.countVerification("verified")

	s.writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.svc.ResendVerification(r.Context(), req.UserID)
	// An unknown account gets the same response as a successful resend so
	// the endpoint cannot be used to enumerate accounts.
	if err != nil && errCode(err) != "MEMBER_NOT_FOUND" {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if !s.decode(w, r, &req) {
		return
	}

	err := s.svc.RequestPasswordReset(r.Context(), req.UserID, req.UserName)
	// A mismatch gets the same response as success: the message must not
	// distinguish unknown accounts from mismatched names.
	if err != nil && errCode(err) != "MEMBER_NOT_FOUND" {
		s.countResetRequest("error")
		s.writeError(w, r, err)
		return
	}
	s.countResetRequest("accepted")

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResetProbe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("id")

	valid, err := s.svc.CheckPasswordResetValid(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resetProbeResponse{Valid: valid})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.countResetOutcome(errCode(err))
		s.writeError(w, r, err)
		return
	}
	s.countResetOutcome("completed")

	w.WriteHeader(http.StatusNoContent)
}

// decode parses a JSON request body, replying 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Code:  "INVALID_REQUEST_BODY",
			Error: "request body must be valid JSON",
		})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // response write error means the client went away
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error code to an HTTP status and JSON body.
// Internal errors are logged with full context but reported to the client
// without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errCode(err)
	status := statusFor(code)

	if status == http.StatusInternalServerError {
		errutil.LogError(s.logger, "request failed", err)
		s.writeJSON(w, status, errorBody{Code: "INTERNAL", Error: "internal error"})
		return
	}
	if status == http.StatusBadGateway {
		errutil.LogError(s.logger, "mail delivery failed", err)
	}

	s.writeJSON(w, status, errorBody{Code: code, Error: err.Error()})
}

// statusFor maps service error codes to HTTP statuses.
func statusFor(code string) int {
	switch code {
	case "MEMBER_DUPLICATE", "MEMBER_ALREADY_VERIFIED":
		return http.StatusConflict
	case "TOKEN_NOT_FOUND", "MEMBER_NOT_FOUND":
		return http.StatusNotFound
	case "RESET_TOKEN_INVALID":
		return http.StatusGone
	case "RESET_PASSWORD_EMPTY":
		return http.StatusBadRequest
	case "MAIL_DELIVERY_FAILED":
		return http.StatusBadGateway
	default:
		if strings.HasPrefix(code, "MEMBER_INVALID_") {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

// errCode extracts the oops error code, or "" for plain errors.
func errCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Code()
	}
	return ""
}

func (s *Server) countRegistration(status string) {
	if s.metrics != nil {
		s.metrics.RegistrationsTotal.WithLabelValues(counterStatus(status)).Inc()
	}
}

func (s *Server) countVerification(status string) {
	if s.metrics != nil {
		s.metrics.VerificationsTotal.WithLabelValues(counterStatus(status)).Inc()
	}
}

func (s *Server) countResetRequest(status string) {
	if s.metrics != nil {
		s.metrics.ResetRequestsTotal.WithLabelValues(counterStatus(status)).Inc()
	}
}

func (s *Server) countResetOutcome(status string) {
	if s.metrics != nil {
		s.metrics.ResetOutcomesTotal.WithLabelValues(counterStatus(status)).Inc()
	}
}

// counterStatus keeps metric label cardinality bounded: known codes pass
// through lowercased, everything else is "error".
func counterStatus(status string) string {
	switch status {
	case "created", "verified", "accepted", "completed",
		"MEMBER_DUPLICATE", "MEMBER_ALREADY_VERIFIED",
		"TOKEN_NOT_FOUND", "MEMBER_NOT_FOUND", "RESET_TOKEN_INVALID",
		"RESET_PASSWORD_EMPTY":
		return strings.ToLower(status)
	default:
		return "error"
	}
}
