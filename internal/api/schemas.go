package api

import (
	"github.com/pipetrace/agent/internal/session"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
	Mode     string `json:"mode"`
}

type SessionResponse struct {
	State      session.State      `json:"state"`
	Directives session.Directives `json:"directives"`
}

type UploadResponse struct {
	SessionID string `json:"session_id"`
	Document  string `json:"document"`
	Message   string `json:"message"`
}

type AskRequest struct {
	Question string `json:"question" validate:"required,max=2000"`
}

type AskResponse struct {
	Result *session.Result `json:"result"`
}

type ViewRequest struct {
	View string `json:"view" validate:"required,oneof=document query"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
