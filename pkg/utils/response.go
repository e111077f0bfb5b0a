package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RespondJSON writes a success envelope with the given payload.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, envelope{Success: true, Data: payload})
}

// RespondError writes a failure envelope with a human-readable message.
func RespondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
