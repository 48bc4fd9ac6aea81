package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/securegrade/securegrade/internal/assignment"
	auth "github.com/securegrade/securegrade/internal/auth/middleware"
	"github.com/securegrade/securegrade/internal/classroom"
	"github.com/securegrade/securegrade/internal/grade"
	"github.com/securegrade/securegrade/internal/sandbox"
	"github.com/securegrade/securegrade/internal/scheduler"
)

// SubmitHandler accepts a task submission: the request body is the zip
// archive, the Language header names the sandbox recipe. The handler
// records the submission and queues it; grading happens asynchronously
// and the client polls retrieve_score for the outcome.
func SubmitHandler(grades *grade.Store, queue *scheduler.Scheduler, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		// Lateness is judged against arrival, before any I/O below adds
		// time to the clock.
		submittedAt := time.Now()

		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, msgInternalError, http.StatusInternalServerError)
			return
		}
		assignmentID, aok := pathID(r, "assignment_id")
		taskID, tok := pathID(r, "task_id")
		if !aok || !tok {
			http.Error(w, msgBadRequest, http.StatusBadRequest)
			return
		}
		lang := r.Header.Get("Language")
		if lang == "" {
			http.Error(w, "Language Header Missing", http.StatusBadRequest)
			return
		}

		archive, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, msgBadRequest, http.StatusBadRequest)
			return
		}

		waiting, err := grades.InProgress(r.Context(), userID, taskID)
		if err != nil {
			fail(w, log, "cannot check submission state", err)
			return
		}
		if waiting {
			http.Error(w, "Previous submission still in queue. Check for results later.", http.StatusTooEarly)
			return
		}

		wasLate, err := grades.MarkSubmitted(r.Context(), userID, taskID, assignmentID, archive, submittedAt)
		if errors.Is(err, grade.ErrNotFound) {
			http.Error(w, msgNotFound, http.StatusNotFound)
			return
		}
		if err != nil {
			fail(w, log, "cannot record submission", err)
			return
		}

		err = queue.TrySend(sandbox.Submission{
			Archive:      archive,
			UserID:       userID,
			TaskID:       taskID,
			AssignmentID: assignmentID,
			WasLate:      wasLate,
			Language:     lang,
		})
		if err != nil {
			// The row was already marked in progress; close it out so the
			// student can see the failure and resubmit.
			log.Error("cannot queue submission", "user", userID, "task", taskID, "error", err)
			if ferr := grades.RecordFailure(r.Context(), userID, taskID, "submission queue full"); ferr != nil {
				log.Error("cannot record queue failure", "user", userID, "task", taskID, "error", ferr)
			}
			http.Error(w, "Could not add submission to queue", http.StatusInternalServerError)
			return
		}
		writeOK(w)
	}
}

// RetrieveScoreHandler polls the grading state of one task: 425 while the
// submission waits or runs, the stored report once it is done.
func RetrieveScoreHandler(grades *grade.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, msgInternalError, http.StatusInternalServerError)
			return
		}
		taskID, ok := pathID(r, "task_id")
		if !ok {
			http.Error(w, "Invalid Request.", http.StatusBadRequest)
			return
		}

		raw, err := grades.TaskScore(r.Context(), userID, taskID)
		switch {
		case errors.Is(err, grade.ErrInProgress):
			http.Error(w, "Submission in progress", http.StatusTooEarly)
		case errors.Is(err, grade.ErrNotFound):
			http.Error(w, msgNotFound, http.StatusNotFound)
		case err != nil:
			fail(w, log, "cannot load task score", err)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(raw)
		}
	}
}

// DownloadMaterialHandler hands out a task's supplementary material as
// base64 plus its original filename.
func DownloadMaterialHandler(assignments *assignment.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, ok := pathID(r, "task_id")
		if !ok {
			http.Error(w, msgBadRequest, http.StatusBadRequest)
			return
		}
		mat, err := assignments.MaterialFor(r.Context(), taskID)
		if errors.Is(err, assignment.ErrNotFound) {
			http.Error(w, "No material found.", http.StatusNotFound)
			return
		}
		if err != nil {
			fail(w, log, "cannot load material", err)
			return
		}
		writeJSON(w, mat)
	}
}

// GetAssignmentHandler returns the student view of an assignment: tasks
// with descriptions and placement, no tests.
func GetAssignmentHandler(assignments *assignment.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, ok := pathID(r, "assignment_id")
		if !ok {
			http.Error(w, msgBadRequest, http.StatusBadRequest)
			return
		}
		a, err := assignments.Get(r.Context(), assignmentID)
		if errors.Is(err, assignment.ErrNotFound) {
			http.Error(w, msgNotFound, http.StatusNotFound)
			return
		}
		if err != nil {
			fail(w, log, "cannot load assignment", err)
			return
		}
		writeJSON(w, a)
	}
}

// ClassInfoHandler is the class landing page: its assignments with the
// caller's aggregate score on each, and the teaching staff.
func ClassInfoHandler(classes *classroom.Store, assignments *assignment.Store,
	grades *grade.Store, log hclog.Logger) http.HandlerFunc {
	log = orNull(log)
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, msgInternalError, http.StatusInternalServerError)
			return
		}
		class := chi.URLParam(r, "class_number")

		infos, err := assignments.ForClass(r.Context(), class)
		if err != nil {
			fail(w, log, "cannot list assignments", err)
			return
		}
		for i := range infos {
			score, err := grades.AssignmentScore(r.Context(), userID, infos[i].AssignmentID)
			if err != nil {
				fail(w, log, "cannot compute assignment score", err)
				return
			}
			infos[i].Score = score
		}

		instructors, err := classes.Instructors(r.Context(), class)
		if err != nil {
			fail(w, log, "cannot list instructors", err)
			return
		}

		writeJSON(w, map[string]any{
			"assignments": infos,
			"instructors": instructors,
		})
	}
}
