// Package responders contains small helpers for writing HTTP responses.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes payload as an application/json response. A nil payload sends
// only the status code. Checkout URLs and Spanish messages may contain
// characters that HTML escaping would mangle, so it is disabled.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
