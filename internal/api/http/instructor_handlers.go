package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/securegrade/securegrade/internal/assignment"
	"github.com/securegrade/securegrade/internal/classroom"
	"github.com/securegrade/securegrade/internal/grade"
)

// AddInstructorHandler enrolls a user as instructor of the route's class.
func AddInstructorHandler(classes *classroom.Store, log hclog.Logger) http.HandlerFunc {
	return addToClassHandler(log, "instructor_user_name", classes.AddInstructor)
}

// AddStudentHandler enrolls a user as student of the route's class.
func AddStudentHandler(classes *classroom.Store, log hclog.Logger) http.HandlerFunc {
	return addToClassHandler(log, "student_user_name", classes.AddStudent)
}

// addToClassHandler is the shared body of the two enrollment endpoints.
// The class always comes from the route, never the body, so an instructor
// can only touch the class the middleware let them through for.
func addToClassHandler(log hclog.Logger, field string,
	enroll func(ctx context.Context, class, userName string) error) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		userName := body[field]
		if userName == "" {
			http.Error(w, field+" required", http.StatusBadRequest)
			return
		}

		err := enroll(r.Context(), chi.URLParam(r, "class_number"), userName)
		switch {
		case errors.Is(err, classroom.ErrUnknownUser):
			http.Error(w, "Unknown user.", http.StatusNotFound)
		case errors.Is(err, classroom.ErrNotFound):
			http.Error(w, msgNotFound, http.StatusNotFound)
		case err != nil:
			fail(w, log, "enrollment failed", err)
		default:
			writeOK(w)
		}
	}
}

// AddAssignmentHandler creates an assignment, its tasks and their tests
// for the route's class in one shot.
func AddAssignmentHandler(assignments *assignment.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		var in assignment.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if in.Name == "" || in.Deadline == "" {
			http.Error(w, "Missing required fields assignment_name or deadline.", http.StatusBadRequest)
			return
		}

		_, err := assignments.Add(r.Context(), chi.URLParam(r, "class_number"), in)
		switch {
		case errors.Is(err, assignment.ErrBadInput):
			http.Error(w, msgBadRequest, http.StatusBadRequest)
		case errors.Is(err, assignment.ErrNotFound):
			http.Error(w, msgNotFound, http.StatusNotFound)
		case err != nil:
			fail(w, log, "cannot add assignment", err)
		default:
			writeOK(w)
		}
	}
}

// UpdateAssignmentHandler replaces an assignment wholesale: the row is
// rewritten and every task and test reinserted, dropping old grades.
func UpdateAssignmentHandler(assignments *assignment.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, ok := pathID(r, "assignment_id")
		if !ok {
			http.Error(w, "Invalid assignment_id parameter.", http.StatusBadRequest)
			return
		}
		var in assignment.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if in.Name == "" || in.Deadline == "" {
			http.Error(w, "Missing required fields assignment_name or deadline.", http.StatusBadRequest)
			return
		}

		err := assignments.Update(r.Context(), assignmentID, in)
		switch {
		case errors.Is(err, assignment.ErrBadInput):
			http.Error(w, msgBadRequest, http.StatusBadRequest)
		case errors.Is(err, assignment.ErrNotFound):
			http.Error(w, msgNotFound, http.StatusNotFound)
		case err != nil:
			fail(w, log, "cannot update assignment", err)
		default:
			writeOK(w)
		}
	}
}

// RetrieveScoresHandler returns the gradebook for one assignment: every
// enrolled student with their weighted aggregate score.
func RetrieveScoresHandler(grades *grade.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, ok := pathID(r, "assignment_id")
		if !ok {
			http.Error(w, msgBadRequest, http.StatusBadRequest)
			return
		}
		scores, err := grades.AssignmentScores(r.Context(), assignmentID)
		if err != nil {
			fail(w, log, "cannot compute scores", err)
			return
		}
		writeJSON(w, scores)
	}
}

// RetrieveFullAssignmentHandler returns the instructor view of an
// assignment, hidden tests included, for the editing form.
func RetrieveFullAssignmentHandler(assignments *assignment.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, ok := pathID(r, "assignment_id")
		if !ok {
			http.Error(w, "Invalid URL parameters.", http.StatusBadRequest)
			return
		}
		full, err := assignments.Full(r.Context(), assignmentID)
		if errors.Is(err, assignment.ErrNotFound) {
			http.Error(w, msgNotFound, http.StatusNotFound)
			return
		}
		if err != nil {
			fail(w, log, "cannot load assignment", err)
			return
		}
		writeJSON(w, full)
	}
}

// DownloadSubmissionHandler bundles one student's submitted archives for
// an assignment into a single zip.
func DownloadSubmissionHandler(grades *grade.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, ok := pathID(r, "assignment_id")
		if !ok {
			http.Error(w, msgBadRequest, http.StatusBadRequest)
			return
		}

		bundle, err := grades.DownloadSubmissions(r.Context(), chi.URLParam(r, "username"), assignmentID)
		if errors.Is(err, grade.ErrNotFound) {
			http.Error(w, "Nothing to download.", http.StatusNotFound)
			return
		}
		if err != nil {
			fail(w, log, "cannot bundle submissions", err)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(bundle)
	}
}

// GenerateJoinCodeHandler mints a short-lived join code for the route's
// class, revoking any previous one.
func GenerateJoinCodeHandler(classes *classroom.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := classes.GenerateJoinCode(r.Context(), chi.URLParam(r, "class_number"))
		if errors.Is(err, classroom.ErrNotFound) {
			http.Error(w, msgNotFound, http.StatusNotFound)
			return
		}
		if err != nil {
			fail(w, log, "cannot generate join code", err)
			return
		}
		writeJSON(w, map[string]string{"join_code": code})
	}
}
