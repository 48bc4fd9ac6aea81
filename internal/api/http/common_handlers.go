package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	auth "github.com/securegrade/securegrade/internal/auth/middleware"
	"github.com/securegrade/securegrade/internal/classroom"
	"github.com/securegrade/securegrade/internal/langs"
)

// JoinClassHandler enrolls the caller as a student of whichever class the
// presented join code belongs to.
func JoinClassHandler(classes *classroom.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, msgInternalError, http.StatusInternalServerError)
			return
		}
		var req struct {
			JoinCode string `json:"join_code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JoinCode == "" {
			http.Error(w, msgBadRequest, http.StatusBadRequest)
			return
		}

		joined, err := classes.JoinClass(r.Context(), userID, req.JoinCode)
		if err != nil {
			fail(w, log, "join class failed", err)
			return
		}
		if !joined {
			http.Error(w, "Invalid Join Code.", http.StatusNotFound)
			return
		}
		writeOK(w)
	}
}

// GetClassesHandler lists the classes the caller belongs to, either role.
func GetClassesHandler(classes *classroom.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, msgInternalError, http.StatusInternalServerError)
			return
		}
		items, err := classes.ClassesForUser(r.Context(), userID)
		if err != nil {
			fail(w, log, "cannot list classes", err)
			return
		}
		writeJSON(w, items)
	}
}

// ListAllStudentsHandler returns the student roster, which the frontend
// uses for name autocompletion. Mounted under the instructor tree the
// route carries a class_number and the class's own members are left out,
// since they cannot be added twice.
func ListAllStudentsHandler(classes *classroom.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := classes.ListStudents(r.Context(), chi.URLParam(r, "class_number"))
		if err != nil {
			fail(w, log, "cannot list students", err)
			return
		}
		writeJSON(w, users)
	}
}

// SupportedLanguagesHandler lists every language with a sandbox recipe,
// so the frontend never hardcodes the set.
func SupportedLanguagesHandler(reg *langs.Registry, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := reg.List()
		if err != nil {
			fail(w, log, "cannot read language registry", err)
			return
		}
		writeJSON(w, names)
	}
}
