package auth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	sessions "github.com/securegrade/securegrade/internal/auth"
)

// The session token travels as the raw Authorization header value; there is
// no Bearer prefix on this wire. Layers answer 401 for a missing or dead
// session, 403 for a live session with the wrong role, and 500 when the
// database cannot answer.

const (
	msgNotAuthorized = "Not Authorized."
	msgInternalError = "Internal Server Error."
)

// RequireSession admits any live session and reports the caller's standing
// via the admin/instructor/student response headers. The class-scoped pair
// is computed against the class_number route param when one exists.
func RequireSession(s *sessions.Store, log hclog.Logger) func(http.Handler) http.Handler {
	log = orNull(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := authenticate(w, r, s, log)
			if !ok {
				return
			}
			ctx := r.Context()

			admin, err := s.IsAdminUser(ctx, userID)
			if err != nil {
				fail(w, log, err)
				return
			}
			instructor, student := false, false
			if class := chi.URLParam(r, "class_number"); class != "" {
				if instructor, err = s.IsInstructorOf(ctx, userID, class); err != nil {
					fail(w, log, err)
					return
				}
				if student, err = s.IsStudentOf(ctx, userID, class); err != nil {
					fail(w, log, err)
					return
				}
			}
			h := w.Header()
			h.Set("admin", strconv.FormatBool(admin))
			h.Set("instructor", strconv.FormatBool(instructor))
			h.Set("student", strconv.FormatBool(student))

			next.ServeHTTP(w, r.WithContext(WithUserID(ctx, userID)))
		})
	}
}

// RequireAdmin admits admin accounts only.
func RequireAdmin(s *sessions.Store, log hclog.Logger) func(http.Handler) http.Handler {
	log = orNull(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := authenticate(w, r, s, log)
			if !ok {
				return
			}
			admin, err := s.IsAdminUser(r.Context(), userID)
			if err != nil {
				fail(w, log, err)
				return
			}
			if !admin {
				http.Error(w, msgNotAuthorized, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// RequireInstructor admits instructors of the route's class_number. Routes
// without a class param fall back to the admin check.
func RequireInstructor(s *sessions.Store, log hclog.Logger) func(http.Handler) http.Handler {
	log = orNull(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := authenticate(w, r, s, log)
			if !ok {
				return
			}
			ctx := r.Context()
			class := chi.URLParam(r, "class_number")

			var allowed bool
			var err error
			if class == "" {
				allowed, err = s.IsAdminUser(ctx, userID)
			} else {
				allowed, err = s.IsInstructorOf(ctx, userID, class)
			}
			if err != nil {
				fail(w, log, err)
				return
			}
			if !allowed {
				http.Error(w, msgNotAuthorized, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(ctx, userID)))
		})
	}
}

// RequireStudent admits anyone enrolled in the route's class_number, whether
// as student or instructor. Routes without a class param fall back to the
// admin check.
func RequireStudent(s *sessions.Store, log hclog.Logger) func(http.Handler) http.Handler {
	log = orNull(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := authenticate(w, r, s, log)
			if !ok {
				return
			}
			ctx := r.Context()
			class := chi.URLParam(r, "class_number")

			var allowed bool
			var err error
			if class == "" {
				allowed, err = s.IsAdminUser(ctx, userID)
			} else {
				allowed, err = s.IsStudentOf(ctx, userID, class)
				if err == nil && !allowed {
					allowed, err = s.IsInstructorOf(ctx, userID, class)
				}
			}
			if err != nil {
				fail(w, log, err)
				return
			}
			if !allowed {
				http.Error(w, msgNotAuthorized, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(ctx, userID)))
		})
	}
}

// authenticate resolves the Authorization header to a user id, writing the
// 401/500 response itself when it cannot.
func authenticate(w http.ResponseWriter, r *http.Request, s *sessions.Store, log hclog.Logger) (int64, bool) {
	token := r.Header.Get("Authorization")
	if token == "" {
		http.Error(w, msgNotAuthorized, http.StatusUnauthorized)
		return 0, false
	}
	userID, err := s.UserFromToken(r.Context(), token)
	if errors.Is(err, sessions.ErrInvalidSession) {
		http.Error(w, msgNotAuthorized, http.StatusUnauthorized)
		return 0, false
	}
	if err != nil {
		fail(w, log, err)
		return 0, false
	}
	return userID, true
}

func fail(w http.ResponseWriter, log hclog.Logger, err error) {
	log.Error("auth query failed", "error", err)
	http.Error(w, msgInternalError, http.StatusInternalServerError)
}

func orNull(log hclog.Logger) hclog.Logger {
	if log == nil {
		return hclog.NewNullLogger()
	}
	return log
}
