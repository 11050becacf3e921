package server

import (
	"encoding/json"
	"net/http"
	"time"
)

const apiVersion = "1.0"

// envelope is the uniform response wrapper for every API route.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    meta        `json:"meta"`
}

type meta struct {
	Timestamp  string `json:"timestamp"`
	APIVersion string `json:"apiVersion"`
}

func newMeta() meta {
	return meta{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIVersion: apiVersion,
	}
}

// respondJSON writes a success envelope.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{
		Success: true,
		Data:    data,
		Meta:    newMeta(),
	})
}

// respondError writes an error envelope.
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   message,
		Meta:    newMeta(),
	})
}

// decodeJSON parses a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
