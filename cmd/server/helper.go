package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

// errorResponse writes a JSON error body
func errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)
	writeJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  errorMsg,
	})
}
