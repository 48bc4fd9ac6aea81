// Package http is the REST surface of the grading service: request
// decoding, status mapping and the JSON shapes the frontend consumes.
// Authorization lives one layer down in internal/auth/middleware; the
// handlers here only translate store results.
package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
)

// Public error bodies. Internal causes go to the log, never to the client.
const (
	msgBadRequest    = "Bad Request."
	msgNotFound      = "Not Found."
	msgInternalError = "Internal Server Error."
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeOK is the generic success body shared by the mutating endpoints.
func writeOK(w http.ResponseWriter) {
	writeJSON(w, map[string]string{"message": "OK"})
}

// fail logs the cause and answers with an opaque 500.
func fail(w http.ResponseWriter, log hclog.Logger, what string, err error) {
	log.Error(what, "error", err)
	http.Error(w, msgInternalError, http.StatusInternalServerError)
}

// pathID parses a numeric route parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

func orNull(log hclog.Logger) hclog.Logger {
	if log == nil {
		return hclog.NewNullLogger()
	}
	return log
}
