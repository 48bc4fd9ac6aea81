package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/securegrade/securegrade/internal/classroom"
)

// CreateClassHandler registers a new class under its catalog number. The
// optional instructor_user_name seeds the first instructor, since the
// instructor endpoints themselves only admit instructors the class
// already has.
func CreateClassHandler(classes *classroom.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ClassNumber        string `json:"class_number"`
			ClassDescription   string `json:"class_description"`
			InstructorUserName string `json:"instructor_user_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		err := classes.CreateClass(r.Context(), req.ClassNumber, req.ClassDescription)
		if errors.Is(err, classroom.ErrBadInput) {
			http.Error(w, "class_number required", http.StatusBadRequest)
			return
		}
		if err != nil {
			fail(w, log, "cannot create class", err)
			return
		}

		if req.InstructorUserName != "" {
			err := classes.AddInstructor(r.Context(), req.ClassNumber, req.InstructorUserName)
			if errors.Is(err, classroom.ErrUnknownUser) {
				http.Error(w, "Unknown user.", http.StatusNotFound)
				return
			}
			if err != nil {
				fail(w, log, "cannot seed instructor", err)
				return
			}
		}
		writeOK(w)
	}
}
