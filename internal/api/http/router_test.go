package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securegrade/securegrade/internal/assignment"
	sessions "github.com/securegrade/securegrade/internal/auth"
	"github.com/securegrade/securegrade/internal/classroom"
	"github.com/securegrade/securegrade/internal/db"
	"github.com/securegrade/securegrade/internal/grade"
	"github.com/securegrade/securegrade/internal/langs"
	"github.com/securegrade/securegrade/internal/sandbox"
	"github.com/securegrade/securegrade/internal/scheduler"
)

// stubGrader passes every test of a task instantly, or fails whole
// submissions for languages scripted into errs.
type stubGrader struct {
	mu   sync.Mutex
	errs map[string]error
	subs []sandbox.Submission
}

func (g *stubGrader) Grade(_ context.Context, sub sandbox.Submission, task sandbox.TaskSpec) (*sandbox.SubmissionReport, error) {
	g.mu.Lock()
	g.subs = append(g.subs, sub)
	g.mu.Unlock()
	if err := g.errs[sub.Language]; err != nil {
		return nil, err
	}
	var r sandbox.SubmissionReport
	for _, t := range task.Tests {
		r.Pass(t.Name, sub.WasLate, nil)
	}
	return &r, nil
}

type apiFixture struct {
	t      *testing.T
	r      chi.Router
	db     *sql.DB
	auth   *sessions.Store
	queue  *scheduler.Scheduler
	grader *stubGrader
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	dbc, err := db.Open(context.Background(), db.DriverSQLite,
		"file:"+filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbc.Close() })

	recipeRoot := t.TempDir()
	for _, lang := range []string{"c", "python"} {
		dir := filepath.Join(recipeRoot, lang)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))
	}
	recipes, err := langs.NewRegistry(recipeRoot, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { recipes.Close() })

	auth := sessions.NewStore(dbc)
	classes := classroom.NewStore(dbc)
	assignments := assignment.NewStore(dbc, nil)
	grades := grade.NewStore(dbc, t.TempDir())

	grader := &stubGrader{errs: map[string]error{}}
	queue := scheduler.New(4, 2, grader, assignments, grades, nil)

	r := chi.NewRouter()
	Mount(r, Deps{
		Sessions:    auth,
		Classes:     classes,
		Assignments: assignments,
		Grades:      grades,
		Queue:       queue,
		Langs:       recipes,
	})
	r.Route("/api", func(ar chi.Router) {
		Mount(ar, Deps{
			Sessions:    auth,
			Classes:     classes,
			Assignments: assignments,
			Grades:      grades,
			Queue:       queue,
			Langs:       recipes,
		})
	})

	return &apiFixture{t: t, r: r, db: dbc, auth: auth, queue: queue, grader: grader}
}

// start runs the dispatcher so queued submissions actually grade.
func (f *apiFixture) start() {
	ctx, cancel := context.WithCancel(context.Background())
	go f.queue.Run(ctx)
	f.t.Cleanup(func() { cancel(); f.queue.Wait() })
}

func (f *apiFixture) doJSON(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) submit(path, token, language string, archive []byte) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest("POST", path, bytes.NewReader(archive))
	req.Header.Set("Authorization", token)
	if language != "" {
		req.Header.Set("Language", language)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) signup(name string) string {
	f.t.Helper()
	w := f.doJSON("POST", "/signup", "", map[string]string{
		"first_name": "Test",
		"last_name":  name,
		"user_name":  name,
		"email":      name + "@example.edu",
		"pass":       "hunter2",
	})
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		SessionBase string `json:"session_base"`
	}
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.SessionBase
}

func (f *apiFixture) makeAdmin(name string) {
	f.t.Helper()
	ok, err := f.auth.PromoteAdmin(context.Background(), name)
	require.NoError(f.t, err)
	require.True(f.t, ok)
}

// world is the standard scene most tests play in: CS101 with one
// instructor and one enrolled student, holding one two-task assignment.
type world struct {
	adminTok, instrTok, studTok string
	assignmentID                int64
	taskIDs                     []int64
}

func (f *apiFixture) buildWorld(deadline string) world {
	f.t.Helper()
	var s world
	s.adminTok = f.signup("root")
	s.instrTok = f.signup("grace")
	s.studTok = f.signup("ada")
	f.makeAdmin("root")

	w := f.doJSON("POST", "/admin/create_class", s.adminTok, map[string]string{
		"class_number":         "cs101",
		"class_description":    "Intro to Programming",
		"instructor_user_name": "grace",
	})
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())

	w = f.doJSON("PUT", "/instructor/CS101/add_student", s.instrTok, map[string]string{
		"student_user_name": "ada",
	})
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())

	in := map[string]any{
		"assignment_name": "Lists",
		"deadline":        deadline,
		"tasks": []map[string]any{
			{
				"task_description": "reverse a list",
				"tests": []map[string]any{
					{"test_name": "small", "is_public": true, "input": "1 2", "output": "2 1"},
					{"input": "1 2 3", "output": "3 2 1"},
				},
			},
			{
				"task_description": "sort a list",
				"tests":            []map[string]any{{"input": "2 1", "output": "1 2"}},
			},
		},
	}
	w = f.doJSON("POST", "/instructor/CS101/add_assignment", s.instrTok, in)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())

	// Recover the generated ids through the student surface.
	w = f.doJSON("GET", "/student/CS101/", s.studTok, nil)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	var info struct {
		Assignments []struct {
			AssignmentID int64 `json:"assignment_id"`
		} `json:"assignments"`
	}
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Len(f.t, info.Assignments, 1)
	s.assignmentID = info.Assignments[0].AssignmentID

	w = f.doJSON("GET", urlf("/student/CS101/%d", s.assignmentID), s.studTok, nil)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	var a struct {
		Tasks []struct {
			TaskID int64 `json:"task_id"`
		} `json:"tasks"`
	}
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &a))
	for _, task := range a.Tasks {
		s.taskIDs = append(s.taskIDs, task.TaskID)
	}
	require.Len(f.t, s.taskIDs, 2)
	return s
}

func urlf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func TestSignupAndLogin(t *testing.T) {
	f := newAPI(t)

	first := f.signup("ab")
	assert.Len(t, first, 22, "raw 16-byte token, unpadded base64")
	assert.NotContains(t, first, "=")

	// A fresh login issues a new token and kills the old session.
	w := f.doJSON("POST", "/login", "", map[string]string{"user_name": "ab", "pass": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		SessionBase string `json:"session_base"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, first, resp.SessionBase)

	assert.Equal(t, http.StatusUnauthorized, f.doJSON("GET", "/get_classes", first, nil).Code)
	assert.Equal(t, http.StatusOK, f.doJSON("GET", "/get_classes", resp.SessionBase, nil).Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAPI(t)
	f.signup("ab")

	w := f.doJSON("POST", "/login", "", map[string]string{"user_name": "ab", "pass": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.doJSON("POST", "/login", "", map[string]string{"user_name": "nobody", "pass": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.doJSON("POST", "/login", "", map[string]string{"user_name": "ab"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateClassRoleGating(t *testing.T) {
	f := newAPI(t)
	adminTok := f.signup("root")
	studTok := f.signup("stud")
	f.makeAdmin("root")

	body := map[string]string{"class_number": "CS200", "class_description": "Algorithms"}
	assert.Equal(t, http.StatusForbidden, f.doJSON("POST", "/admin/create_class", studTok, body).Code)
	assert.Equal(t, http.StatusOK, f.doJSON("POST", "/admin/create_class", adminTok, body).Code)
	assert.Equal(t, http.StatusUnauthorized, f.doJSON("POST", "/admin/create_class", "", body).Code)
}

func TestJoinClassFlow(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")
	joiner := f.signup("alan")

	w := f.doJSON("PUT", "/join_class", joiner, map[string]string{"join_code": "ABC123"})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid Join Code.")

	w = f.doJSON("GET", "/instructor/CS101/generate_join_code", s.instrTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var code struct {
		JoinCode string `json:"join_code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &code))
	require.Len(t, code.JoinCode, 6)

	w = f.doJSON("PUT", "/join_class", joiner, map[string]string{"join_code": code.JoinCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.doJSON("GET", "/get_classes", joiner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var classes []struct {
		ClassNumber string `json:"class_number"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &classes))
	require.Len(t, classes, 1)
	assert.Equal(t, "CS101", classes[0].ClassNumber)

	// Enrollment unlocks the student surface.
	assert.Equal(t, http.StatusOK, f.doJSON("GET", "/student/CS101/", joiner, nil).Code)
}

func TestRosterExcludesClassMembers(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")
	f.signup("alan")

	w := f.doJSON("GET", "/instructor/CS101/list_all_students", s.instrTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var roster []struct {
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roster))
	names := make([]string, 0, len(roster))
	for _, u := range roster {
		names = append(names, u.Username)
	}
	assert.Equal(t, []string{"alan"}, names, "members and admins stay out")

	// The unscoped roster keeps everyone but admins.
	w = f.doJSON("GET", "/list_all_students", s.studTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roster))
	assert.Len(t, roster, 3)
}

func TestClassInfoShape(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")

	w := f.doJSON("GET", "/student/CS101/", s.studTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info struct {
		Assignments []struct {
			AssignmentID    int64   `json:"assignment_id"`
			AssignmentName  string  `json:"assignment_name"`
			AssignmentScore float32 `json:"assignment_score"`
		} `json:"assignments"`
		Instructors []struct {
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
		} `json:"instructors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Len(t, info.Assignments, 1)
	assert.Equal(t, "Lists", info.Assignments[0].AssignmentName)
	assert.Zero(t, info.Assignments[0].AssignmentScore)
	require.Len(t, info.Instructors, 1)
	assert.Equal(t, "grace", info.Instructors[0].LastName)
}

func TestSubmitAndPoll(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")
	f.start()

	task := s.taskIDs[0]
	path := urlf("/student/CS101/%d/%d/submit", s.assignmentID, task)

	w := f.submit(path, s.studTok, "python", []byte("PK-archive"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"message":"OK"}`, w.Body.String())

	score := urlf("/student/CS101/%d/%d/retrieve_score", s.assignmentID, task)
	require.Eventually(t, func() bool {
		return f.doJSON("GET", score, s.studTok, nil).Code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	w = f.doJSON("GET", score, s.studTok, nil)
	var report struct {
		Tests []struct {
			TestName string `json:"test_name"`
			Status   string `json:"status"`
		} `json:"tests"`
		Passes int `json:"passes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Passes)
	require.Len(t, report.Tests, 2)
	assert.Equal(t, "PASS", report.Tests[0].Status)

	// The graded task now counts toward the class page aggregate:
	// a full score on 2 of 3 total tests.
	w = f.doJSON("GET", "/student/CS101/", s.studTok, nil)
	var info struct {
		Assignments []struct {
			AssignmentScore float32 `json:"assignment_score"`
		} `json:"assignments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Len(t, info.Assignments, 1)
	assert.InDelta(t, 2.0/3.0, info.Assignments[0].AssignmentScore, 1e-6)
}

func TestSubmitLateShowsInReport(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2024-01-01T00:00:00Z")
	f.start()

	path := urlf("/student/CS101/%d/%d/submit", s.assignmentID, s.taskIDs[1])
	require.Equal(t, http.StatusOK, f.submit(path, s.studTok, "python", []byte("zip")).Code)

	score := urlf("/student/CS101/%d/%d/retrieve_score", s.assignmentID, s.taskIDs[1])
	require.Eventually(t, func() bool {
		return f.doJSON("GET", score, s.studTok, nil).Code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	var report struct {
		Tests []struct {
			Status string `json:"status"`
		} `json:"tests"`
	}
	w := f.doJSON("GET", score, s.studTok, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Tests, 1)
	assert.Equal(t, "LATE", report.Tests[0].Status)

	// Late work weighs half in the aggregate: task 2 holds 1 of 3 tests.
	var info struct {
		Assignments []struct {
			AssignmentScore float32 `json:"assignment_score"`
		} `json:"assignments"`
	}
	w = f.doJSON("GET", "/student/CS101/", s.studTok, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.InDelta(t, 0.5/3.0, info.Assignments[0].AssignmentScore, 1e-6)
}

func TestSubmitPreconditions(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")
	path := urlf("/student/CS101/%d/%d/submit", s.assignmentID, s.taskIDs[0])

	w := f.submit(path, s.studTok, "", []byte("zip"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Language Header Missing")

	w = f.submit(path, "", "python", []byte("zip"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	outsider := f.signup("mallory")
	w = f.submit(path, outsider, "python", []byte("zip"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDuplicateSubmissionTooEarly(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")
	// Dispatcher deliberately not started: the first submission stays
	// queued, so the second must bounce.
	path := urlf("/student/CS101/%d/%d/submit", s.assignmentID, s.taskIDs[0])

	require.Equal(t, http.StatusOK, f.submit(path, s.studTok, "python", []byte("zip")).Code)

	w := f.submit(path, s.studTok, "python", []byte("zip"))
	assert.Equal(t, http.StatusTooEarly, w.Code)
	assert.Contains(t, w.Body.String(), "Previous submission still in queue.")

	// A different task of the same assignment is unaffected.
	other := urlf("/student/CS101/%d/%d/submit", s.assignmentID, s.taskIDs[1])
	assert.Equal(t, http.StatusOK, f.submit(other, s.studTok, "python", []byte("zip")).Code)
}

func TestRetrieveScoreStates(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")
	f.grader.errs["c"] = context.DeadlineExceeded
	f.start()

	score := urlf("/student/CS101/%d/%d/retrieve_score", s.assignmentID, s.taskIDs[0])

	// Nothing handed in yet.
	w := f.doJSON("GET", score, s.studTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A submission whose grading fails terminally surfaces the cause.
	path := urlf("/student/CS101/%d/%d/submit", s.assignmentID, s.taskIDs[0])
	require.Equal(t, http.StatusOK, f.submit(path, s.studTok, "c", []byte("zip")).Code)

	require.Eventually(t, func() bool {
		return f.doJSON("GET", score, s.studTok, nil).Code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	w = f.doJSON("GET", score, s.studTok, nil)
	var failure struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failure))
	assert.NotEmpty(t, failure.Error)

	// The failure is terminal, so resubmitting is allowed.
	assert.Equal(t, http.StatusOK, f.submit(path, s.studTok, "python", []byte("zip")).Code)
}

func TestSupportedLanguages(t *testing.T) {
	f := newAPI(t)
	tok := f.signup("ada")

	w := f.doJSON("GET", "/get_supported_languages", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	assert.Equal(t, []string{"c", "python"}, names)

	assert.Equal(t, http.StatusUnauthorized, f.doJSON("GET", "/get_supported_languages", "", nil).Code)
}

func TestDownloadMaterial(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")

	w := f.doJSON("GET", urlf("/student/CS101/%d/%d/download_material", s.assignmentID, s.taskIDs[0]), s.studTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "No material found.")
}

func TestDownloadSubmissionsEmpty(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")

	w := f.doJSON("GET", urlf("/instructor/CS101/%d/download/ada", s.assignmentID), s.instrTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Nothing to download.")

	// Students cannot reach the instructor surface at all.
	w = f.doJSON("GET", urlf("/instructor/CS101/%d/download/ada", s.assignmentID), s.studTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRetrieveScoresGradebook(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")

	w := f.doJSON("GET", urlf("/instructor/CS101/%d/retrieve_scores", s.assignmentID), s.instrTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var book []struct {
		Name     string  `json:"name"`
		Username string  `json:"username"`
		Score    float32 `json:"score"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	require.Len(t, book, 1)
	assert.Equal(t, "ada", book[0].Username)
	assert.Zero(t, book[0].Score)
}

func TestUpdateAssignmentThroughAPI(t *testing.T) {
	f := newAPI(t)
	s := f.buildWorld("2030-01-01T00:00:00Z")

	w := f.doJSON("PUT", urlf("/instructor/CS101/%d/update_assignment", s.assignmentID), s.instrTok, map[string]any{
		"assignment_name": "Lists v2",
		"deadline":        "2031-01-01T00:00:00Z",
		"tasks": []map[string]any{{
			"task_description": "merge two lists",
			"tests":            []map[string]any{{"input": "a", "output": "b"}},
		}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.doJSON("GET", urlf("/instructor/CS101/%d/retrieve_full_assignment", s.assignmentID), s.instrTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var full struct {
		AssignmentName string `json:"assignment_name"`
		Tasks          []struct {
			Tests []struct {
				Input string `json:"input"`
			} `json:"tests"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &full))
	assert.Equal(t, "Lists v2", full.AssignmentName)
	require.Len(t, full.Tasks, 1)
	require.Len(t, full.Tasks[0].Tests, 1)
	assert.Equal(t, "a", full.Tasks[0].Tests[0].Input)

	w = f.doJSON("PUT", "/instructor/CS101/999/update_assignment", s.instrTok, map[string]any{
		"assignment_name": "ghost",
		"deadline":        "2031-01-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIPrefixAlias(t *testing.T) {
	f := newAPI(t)
	tok := f.signup("ada")

	assert.Equal(t, http.StatusOK, f.doJSON("GET", "/api/get_supported_languages", tok, nil).Code)
	w := f.doJSON("POST", "/api/login", "", map[string]string{"user_name": "ada", "pass": "hunter2"})
	assert.Equal(t, http.StatusOK, w.Code)
}
