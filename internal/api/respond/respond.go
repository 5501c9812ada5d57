// Package respond writes the JSON envelope used by every API endpoint.
//
// Successful responses look like {"success": true, "result": ...} and
// failures like {"success": false, "error": "..."}.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/wb-go/wbf/zlog"
)

type success struct {
	Success bool `json:"success"`
	Result  any  `json:"result,omitempty"`
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

// OK writes a 200 response with result.
func OK(w http.ResponseWriter, result any) {
	JSON(w, http.StatusOK, success{Success: true, Result: result})
}

// Created writes a 201 response with result.
func Created(w http.ResponseWriter, result any) {
	JSON(w, http.StatusCreated, success{Success: true, Result: result})
}

// Fail writes an error response.
func Fail(w http.ResponseWriter, code int, err error) {
	FailWithDetails(w, code, err, nil)
}

// FailWithDetails writes an error response carrying extra context.
func FailWithDetails(w http.ResponseWriter, code int, err error, details any) {
	JSON(w, code, failure{Error: err.Error(), Details: details})
}
