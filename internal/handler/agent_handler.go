package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"gatepass-agent/internal/authapi"
	"gatepass-agent/internal/domain"
	"gatepass-agent/internal/session"
)

// AgentHandler exposes the session lifecycle to other on-terminal
// processes over the loopback API.
type AgentHandler struct {
	manager *session.Manager
}

// NewAgentHandler creates a new agent API handler
func NewAgentHandler(manager *session.Manager) *AgentHandler {
	return &AgentHandler{
		manager: manager,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CompanyResponse represents a company membership
type CompanyResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// UserResponse represents the logged-in operator
type UserResponse struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Name      string            `json:"name"`
	Staff     bool              `json:"staff"`
	Companies []CompanyResponse `json:"companies,omitempty"`
}

// SessionResponse represents the current session snapshot
type SessionResponse struct {
	State             string           `json:"state"`
	User              *UserResponse    `json:"user,omitempty"`
	Permissions       []string         `json:"permissions"`
	PermissionsLoaded bool             `json:"permissions_loaded"`
	CurrentCompany    *CompanyResponse `json:"current_company,omitempty"`
	AccessExpiresAt   *time.Time       `json:"access_expires_at,omitempty"`
}

// TokenResponse represents a token handout
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// SwitchCompanyRequest represents a company switch request
type SwitchCompanyRequest struct {
	CompanyID string `json:"company_id"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// Login handles operator login
func (h *AgentHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.manager.Login(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.sessionResponse())
}

// Logout handles operator logout
func (h *AgentHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": session.StateUnauthenticated.String()})
}

// Session returns the current session snapshot
func (h *AgentHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionResponse())
}

// Token hands out a valid access token, refreshing it first when needed
func (h *AgentHandler) Token(w http.ResponseWriter, r *http.Request) {
	token, err := h.manager.Token(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token})
}

// Refresh forces an immediate token rotation
func (h *AgentHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ForceRefresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionResponse())
}

// SwitchCompany changes the current company selection
func (h *AgentHandler) SwitchCompany(w http.ResponseWriter, r *http.Request) {
	var req SwitchCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.manager.SwitchCompany(r.Context(), req.CompanyID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionResponse())
}

// ChangePassword proxies a password change to the backend
func (h *AgentHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.manager.ChangePassword(r.Context(), req.OldPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

func (h *AgentHandler) sessionResponse() SessionResponse {
	snap := h.manager.Snapshot()

	resp := SessionResponse{
		State:             snap.State.String(),
		Permissions:       snap.Permissions,
		PermissionsLoaded: snap.PermissionsLoaded,
	}
	if resp.Permissions == nil {
		resp.Permissions = []string{}
	}
	if snap.User != nil {
		resp.User = toUserResponse(snap.User)
	}
	if snap.CurrentCompany != nil {
		resp.CurrentCompany = &CompanyResponse{
			ID:      snap.CurrentCompany.ID,
			Name:    snap.CurrentCompany.Name,
			Default: snap.CurrentCompany.Default,
		}
	}
	if !snap.AccessExpiresAt.IsZero() {
		t := snap.AccessExpiresAt
		resp.AccessExpiresAt = &t
	}
	return resp
}

func toUserResponse(user *domain.User) *UserResponse {
	resp := &UserResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Staff: user.Staff,
	}
	for _, c := range user.Companies {
		resp.Companies = append(resp.Companies, CompanyResponse{
			ID:      c.ID,
			Name:    c.Name,
			Default: c.Default,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps session/backend errors onto the local API's status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var apiErr *authapi.APIError
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnknownCompany), errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.As(err, &apiErr):
		if apiErr.Temporary() {
			status = http.StatusBadGateway
		} else {
			status = http.StatusUnauthorized
		}
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
