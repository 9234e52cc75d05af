package server

import (
	"encoding/json"
	"net/http"
)

// envelope is the uniform JSON response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) respondSuccess(w http.ResponseWriter, status int, data any, message string) {
	s.respond(w, status, envelope{Success: true, Data: data, Message: message})
}

func (s *Server) respondError(w http.ResponseWriter, status int, errMsg string) {
	s.respond(w, status, envelope{Success: false, Error: errMsg})
}

func (s *Server) respond(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}
