// Package assignment manages assignments, their tasks and test suites.
package assignment

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/securegrade/securegrade/internal/sandbox"
)

var (
	// ErrNotFound means the assignment or task does not exist.
	ErrNotFound = errors.New("assignment not found")

	// ErrBadInput means the payload cannot be stored as given.
	ErrBadInput = errors.New("invalid assignment input")
)

// Store reads and writes assignment content.
type Store struct {
	db  *sql.DB
	log hclog.Logger
}

func NewStore(db *sql.DB, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{db: db, log: logger.Named("assignments")}
}

// parseDeadline accepts RFC 3339 timestamps.
func parseDeadline(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: deadline %q is not RFC 3339", ErrBadInput, s)
	}
	return t, nil
}

func formatDeadline(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

// Add stores a new assignment with its tasks and tests and publishes it to
// the class. Returns the new assignment id.
func (s *Store) Add(ctx context.Context, class string, in Input) (int64, error) {
	deadline, err := parseDeadline(in.Deadline)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var number string
	err = tx.QueryRowContext(ctx,
		`SELECT class_number FROM classes WHERE UPPER(class_number) = UPPER($1)`, class).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("class %q: %w", class, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve class: %w", err)
	}

	var assignmentID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO assignments (assignment_name, assignment_description, deadline)
		 VALUES ($1, $2, $3) RETURNING id`,
		in.Name, in.Description, deadline.Unix()).Scan(&assignmentID)
	if err != nil {
		return 0, fmt.Errorf("insert assignment: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assignment_class (assignment_id, class_number) VALUES ($1, $2)`,
		assignmentID, number); err != nil {
		return 0, fmt.Errorf("publish assignment to %s: %w", number, err)
	}

	if err := s.insertTasks(ctx, tx, assignmentID, in.Tasks); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return assignmentID, nil
}

// Update rewrites an assignment in place. Tasks and tests are replaced
// wholesale; existing grades for the old tasks go with them.
func (s *Store) Update(ctx context.Context, assignmentID int64, in Input) error {
	deadline, err := parseDeadline(in.Deadline)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE assignments SET assignment_name = $1, assignment_description = $2, deadline = $3
		 WHERE id = $4`,
		in.Name, in.Description, deadline.Unix(), assignmentID)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assignment %d: %w", assignmentID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE assignment_id = $1`, assignmentID); err != nil {
		return fmt.Errorf("drop old tasks: %w", err)
	}
	if err := s.insertTasks(ctx, tx, assignmentID, in.Tasks); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) insertTasks(ctx context.Context, tx *sql.Tx, assignmentID int64, tasks []TaskInput) error {
	for placement, task := range tasks {
		material, err := decodeOptional(task.MaterialBase64)
		if err != nil {
			return fmt.Errorf("%w: task %d material is not base64", ErrBadInput, placement)
		}

		var taskID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO tasks (assignment_id, task_description, allow_editor, placement,
			                    supplementary_material, supplementary_filename, test_method)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			assignmentID, task.TaskDescription, task.AllowEditor, placement,
			material, task.MaterialFilename, sandbox.MethodStdio).Scan(&taskID)
		if err != nil {
			return fmt.Errorf("insert task %d: %w", placement, err)
		}

		for i, test := range task.Tests {
			input, err := s.testText(test.Input, test.InputFileBase64, "input")
			if err != nil {
				return fmt.Errorf("%w: task %d test %d: %v", ErrBadInput, placement, i, err)
			}
			output, err := s.testText(test.Output, test.OutputFileBase64, "output")
			if err != nil {
				return fmt.Errorf("%w: task %d test %d: %v", ErrBadInput, placement, i, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tests (task_id, test_name, input, output, public, timeout)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				taskID, test.TestName, input, output, test.IsPublic, task.Timeout); err != nil {
				return fmt.Errorf("insert test %d of task %d: %w", i, placement, err)
			}
		}
	}
	return nil
}

// testText picks between the inline value and the uploaded file form of a
// test transcript. The file wins when both arrive.
func (s *Store) testText(inline, fileBase64 *string, kind string) (string, error) {
	if fileBase64 != nil {
		if inline != nil && *inline != "" {
			s.log.Warn("test has both inline and file "+kind+", using the file", "kind", kind)
		}
		raw, err := base64.StdEncoding.DecodeString(*fileBase64)
		if err != nil {
			return "", fmt.Errorf("%s file is not base64", kind)
		}
		return string(raw), nil
	}
	if inline != nil {
		return *inline, nil
	}
	return "", nil
}

func decodeOptional(b64 *string) ([]byte, error) {
	if b64 == nil {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(*b64)
}

// Get returns the student view of an assignment.
func (s *Store) Get(ctx context.Context, assignmentID int64) (*Assignment, error) {
	var (
		a        Assignment
		desc     sql.NullString
		deadline int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, assignment_name, assignment_description, deadline
		 FROM assignments WHERE id = $1`, assignmentID).
		Scan(&a.AssignmentID, &a.Name, &desc, &deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assignment %d: %w", assignmentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read assignment: %w", err)
	}
	if desc.Valid {
		a.Description = &desc.String
	}
	a.Deadline = formatDeadline(deadline)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_description, placement, allow_editor
		 FROM tasks WHERE assignment_id = $1 ORDER BY placement`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	defer rows.Close()

	a.Tasks = []Task{}
	for rows.Next() {
		var (
			t        Task
			taskDesc sql.NullString
		)
		if err := rows.Scan(&t.TaskID, &taskDesc, &t.Placement, &t.AllowEditor); err != nil {
			return nil, err
		}
		if taskDesc.Valid {
			t.Description = &taskDesc.String
		}
		a.Tasks = append(a.Tasks, t)
	}
	return &a, rows.Err()
}

// Full returns the instructor view including every test.
func (s *Store) Full(ctx context.Context, assignmentID int64) (*Full, error) {
	var (
		f        Full
		desc     sql.NullString
		deadline int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, assignment_name, assignment_description, deadline, visible
		 FROM assignments WHERE id = $1`, assignmentID).
		Scan(&f.AssignmentID, &f.Name, &desc, &deadline, &f.Visible)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assignment %d: %w", assignmentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read assignment: %w", err)
	}
	if desc.Valid {
		f.Description = &desc.String
	}
	f.Deadline = formatDeadline(deadline)

	taskRows, err := s.db.QueryContext(ctx,
		`SELECT id, task_description, placement, allow_editor, supplementary_filename
		 FROM tasks WHERE assignment_id = $1 ORDER BY placement`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	defer taskRows.Close()

	f.Tasks = []FullTask{}
	for taskRows.Next() {
		var (
			t        FullTask
			taskDesc sql.NullString
			fileName sql.NullString
		)
		if err := taskRows.Scan(&t.TaskID, &taskDesc, &t.Placement, &t.AllowEditor, &fileName); err != nil {
			return nil, err
		}
		if taskDesc.Valid {
			t.Description = &taskDesc.String
		}
		if fileName.Valid {
			t.MaterialFilename = &fileName.String
		}
		f.Tasks = append(f.Tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, err
	}

	for i := range f.Tasks {
		tests, err := s.testsFor(ctx, f.Tasks[i].TaskID)
		if err != nil {
			return nil, err
		}
		f.Tasks[i].Tests = tests
	}
	return &f, nil
}

func (s *Store) testsFor(ctx context.Context, taskID int64) ([]FullTest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_name, input, output, public, timeout
		 FROM tests WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("read tests: %w", err)
	}
	defer rows.Close()

	tests := []FullTest{}
	for rows.Next() {
		var (
			t       FullTest
			name    sql.NullString
			timeout sql.NullInt64
		)
		if err := rows.Scan(&t.TestID, &name, &t.Input, &t.Output, &t.IsPublic, &timeout); err != nil {
			return nil, err
		}
		if name.Valid {
			t.TestName = &name.String
		}
		if timeout.Valid {
			v := int(timeout.Int64)
			t.Timeout = &v
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// ForClass lists the class's assignments without scores; callers attach
// the viewer's aggregate per assignment.
func (s *Store) ForClass(ctx context.Context, class string) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT a.id, a.assignment_name, a.assignment_description, a.deadline
		 FROM assignments a
		 JOIN assignment_class ac ON ac.assignment_id = a.id
		 WHERE UPPER(ac.class_number) = UPPER($1)
		 ORDER BY a.id`, class)
	if err != nil {
		return nil, fmt.Errorf("list class assignments: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		var (
			info     Info
			desc     sql.NullString
			deadline int64
		)
		if err := rows.Scan(&info.AssignmentID, &info.Name, &desc, &deadline); err != nil {
			return nil, err
		}
		if desc.Valid {
			info.Description = &desc.String
		}
		info.Deadline = formatDeadline(deadline)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// TaskSpec loads what the sandbox needs to grade one task.
func (s *Store) TaskSpec(ctx context.Context, taskID int64) (sandbox.TaskSpec, error) {
	var spec sandbox.TaskSpec
	err := s.db.QueryRowContext(ctx,
		`SELECT test_method FROM tasks WHERE id = $1`, taskID).Scan(&spec.Method)
	if errors.Is(err, sql.ErrNoRows) {
		return spec, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return spec, fmt.Errorf("read task: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT test_name, input, output, public, timeout
		 FROM tests WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return spec, fmt.Errorf("read tests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tc      sandbox.TestCase
			name    sql.NullString
			timeout sql.NullInt64
		)
		if err := rows.Scan(&name, &tc.Input, &tc.Output, &tc.Public, &timeout); err != nil {
			return spec, err
		}
		tc.Name = name.String
		if timeout.Valid {
			tc.Timeout = time.Duration(timeout.Int64) * time.Second
		}
		spec.Tests = append(spec.Tests, tc)
	}
	return spec, rows.Err()
}

// MaterialFor returns a task's hand-out as base64, or ErrNotFound when the
// task has none.
func (s *Store) MaterialFor(ctx context.Context, taskID int64) (*Material, error) {
	var (
		blob     []byte
		fileName sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT supplementary_material, supplementary_filename FROM tasks WHERE id = $1`, taskID).
		Scan(&blob, &fileName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read material: %w", err)
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("task %d has no material: %w", taskID, ErrNotFound)
	}
	return &Material{
		Material: base64.StdEncoding.EncodeToString(blob),
		Filename: fileName.String,
	}, nil
}
