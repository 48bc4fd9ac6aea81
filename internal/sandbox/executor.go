// Package sandbox grades submissions by building them into container
// images and running each test case against the result. Nothing from a
// submission executes on the host.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/securegrade/securegrade/internal/langs"
)

// MethodStdio is the only supported test method. Tasks declaring an
// http:<port> method are stored but refused at grading time.
const MethodStdio = "stdio"

// Submission is one queued grading job.
type Submission struct {
	Archive      []byte
	UserID       int64
	TaskID       int64
	AssignmentID int64
	WasLate      bool
	Language     string
}

// TestCase is a single stdin/stdout check. A zero Timeout leaves the run
// unbounded.
type TestCase struct {
	Name    string
	Input   string
	Output  string
	Public  bool
	Timeout time.Duration
}

// TaskSpec describes how to grade one task.
type TaskSpec struct {
	Method string
	Tests  []TestCase
}

// Executor turns submissions into grading reports.
type Executor struct {
	runtime  Runtime
	recipes  *langs.Registry
	workRoot string
	log      hclog.Logger
}

func NewExecutor(rt Runtime, recipes *langs.Registry, workRoot string, logger hclog.Logger) *Executor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Executor{runtime: rt, recipes: recipes, workRoot: workRoot, log: logger.Named("sandbox")}
}

// Grade builds the submission with the recipe for its language and runs
// every test case against the image. A non-nil error means the submission
// could not be graded at all (bad archive, unknown language, failed build);
// per-test outcomes, including timeouts and runtime errors, land in the
// report instead.
func (e *Executor) Grade(ctx context.Context, sub Submission, task TaskSpec) (*SubmissionReport, error) {
	if task.Method != MethodStdio {
		return nil, fmt.Errorf("unsupported test method %q", task.Method)
	}

	recipeDir, err := e.recipes.RecipeDir(sub.Language)
	if err != nil {
		return nil, fmt.Errorf("language %q: %w", sub.Language, err)
	}

	dir, err := makeWorkspace(e.workRoot, sub.UserID, sub.TaskID)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := stageSubmission(dir, sub.Archive); err != nil {
		return nil, err
	}
	// The recipe Dockerfile sits at the context root, above the extracted
	// submission, so an archive cannot smuggle in its own.
	if err := copyFile(filepath.Join(dir, "Dockerfile"), filepath.Join(recipeDir, "Dockerfile")); err != nil {
		return nil, fmt.Errorf("copy recipe: %w", err)
	}

	image, err := e.runtime.Build(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.runtime.Teardown(context.WithoutCancel(ctx), image); err != nil {
			e.log.Warn("sandbox teardown incomplete", "image", image, "error", err)
		}
	}()

	// The build context is gone before any untrusted code runs.
	if err := os.RemoveAll(dir); err != nil {
		e.log.Warn("could not remove workspace", "dir", dir, "error", err)
	}

	e.log.Debug("grading submission", "user", sub.UserID, "task", sub.TaskID, "tests", len(task.Tests))

	report := &SubmissionReport{}
	for _, t := range task.Tests {
		out, timedOut, err := e.runtime.Exec(ctx, image, t.Input, t.Timeout)
		switch {
		case timedOut:
			report.TimeOut(t.Name, publicIO(t, ""))
		case err != nil:
			report.Err(t.Name, publicIO(t, err.Error()))
		case out == strings.TrimSpace(t.Output):
			report.Pass(t.Name, sub.WasLate, publicIO(t, out))
		default:
			report.Fail(t.Name, publicIO(t, out))
		}
	}
	return report, nil
}

// publicIO builds the disclosed transcript for public tests, nil otherwise.
func publicIO(t TestCase, found string) *InputOutput {
	if !t.Public {
		return nil
	}
	return &InputOutput{Input: t.Input, Expected: t.Output, Found: found}
}
