package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashicorp/go-hclog"

	sessions "github.com/securegrade/securegrade/internal/auth"
)

// LoginHandler exchanges a user name and password for a fresh session
// token. Any earlier session of the same user dies with the login.
func LoginHandler(s *sessions.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserName string `json:"user_name"`
			Pass     string `json:"pass"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.UserName == "" || req.Pass == "" {
			http.Error(w, "user_name and pass required", http.StatusBadRequest)
			return
		}

		token, err := s.Login(r.Context(), req.UserName, req.Pass)
		if errors.Is(err, sessions.ErrBadCredentials) {
			http.Error(w, "Invalid credentials.", http.StatusUnauthorized)
			return
		}
		if err != nil {
			fail(w, log, "login failed", err)
			return
		}
		writeJSON(w, map[string]string{"session_base": token})
	}
}

// SignupHandler registers an account and logs it straight in, so the
// response carries a usable session token.
func SignupHandler(s *sessions.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessions.NewUser
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.UserName == "" || req.Email == "" || req.Pass == "" {
			http.Error(w, "user_name, email and pass required", http.StatusBadRequest)
			return
		}

		token, err := s.Signup(r.Context(), req)
		if err != nil {
			fail(w, log, "signup failed", err)
			return
		}
		writeJSON(w, map[string]string{"session_base": token})
	}
}
