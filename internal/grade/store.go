// Package grade owns the submission lifecycle rows: one row per user and
// task, created at submission time and finished by the grading worker with
// either a report or a terminal error.
package grade

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means no submission row exists for the requested pair.
	ErrNotFound = errors.New("no submission found")

	// ErrInProgress means the submission is queued or grading and has no
	// result yet.
	ErrInProgress = errors.New("submission in progress")
)

// AssignmentGrade is one student's aggregate score for an assignment.
type AssignmentGrade struct {
	Name     string  `json:"name"`
	Username string  `json:"username"`
	Score    float32 `json:"score"`
}

// Store reads and writes grading state.
type Store struct {
	db   *sql.DB
	work string
}

// NewStore returns a grade store. workDir is scratch space for assembling
// submission bundles.
func NewStore(db *sql.DB, workDir string) *Store {
	return &Store{db: db, work: workDir}
}

// InProgress reports whether the user has a submission for the task that
// has neither a grade nor a terminal error yet.
func (s *Store) InProgress(ctx context.Context, userID, taskID int64) (bool, error) {
	var waiting bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM user_task_grade
			WHERE user_id = $1 AND task_id = $2 AND grade IS NULL AND error IS NULL
		)`, userID, taskID).Scan(&waiting)
	if err != nil {
		return false, fmt.Errorf("check submission state: %w", err)
	}
	return waiting, nil
}

// MarkSubmitted replaces any previous submission for the pair with a fresh
// ungraded row and reports whether the submission missed the deadline.
// submittedAt is the moment the request arrived, so queue wait cannot make
// a submission late. The delete, deadline read and insert share one
// transaction so two rapid submissions cannot interleave into a duplicate
// row.
func (s *Store) MarkSubmitted(ctx context.Context, userID, taskID, assignmentID int64, archive []byte, submittedAt time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_task_grade WHERE user_id = $1 AND task_id = $2`, userID, taskID); err != nil {
		return false, fmt.Errorf("remove old grade: %w", err)
	}

	var deadlineUnix int64
	err = tx.QueryRowContext(ctx,
		`SELECT deadline FROM assignments WHERE id = $1`, assignmentID).Scan(&deadlineUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("assignment %d: %w", assignmentID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("read deadline: %w", err)
	}
	wasLate := !submittedAt.Before(time.Unix(deadlineUnix, 0))

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_task_grade (user_id, task_id, assignment_id, was_late, submission_zip)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, taskID, assignmentID, wasLate, archive); err != nil {
		return false, fmt.Errorf("mark submitted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return wasLate, nil
}

// RecordResult finishes a submission with its report and score.
func (s *Store) RecordResult(ctx context.Context, userID, taskID int64, report []byte, gradeValue float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_task_grade SET json_results = $1, grade = $2, error = NULL
		 WHERE user_id = $3 AND task_id = $4`,
		report, gradeValue, userID, taskID)
	if err != nil {
		return fmt.Errorf("record grade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFailure finishes a submission with a terminal error. The archive is
// kept so instructors can still download what was handed in.
func (s *Store) RecordFailure(ctx context.Context, userID, taskID int64, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_task_grade SET error = $1, json_results = NULL, grade = NULL
		 WHERE user_id = $2 AND task_id = $3`,
		cause, userID, taskID)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskScore returns the stored report for the pair. Errored submissions
// yield a report carrying only the failure cause. Ungraded submissions
// yield ErrInProgress, absent ones ErrNotFound.
func (s *Store) TaskScore(ctx context.Context, userID, taskID int64) ([]byte, error) {
	var (
		report  []byte
		failure sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT json_results, error FROM user_task_grade WHERE user_id = $1 AND task_id = $2`,
		userID, taskID).Scan(&report, &failure)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read task score: %w", err)
	}
	if failure.Valid && failure.String != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{failure.String})
	}
	if len(report) == 0 {
		return nil, ErrInProgress
	}
	return report, nil
}

// AssignmentScore aggregates one user's score across every task of an
// assignment. Each task is weighted by its test count, late passes count
// half, and tasks without a finished grade count zero. An assignment with
// no tests scores zero.
func (s *Store) AssignmentScore(ctx context.Context, userID, assignmentID int64) (float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, COUNT(ts.id) FROM tasks t
		 LEFT JOIN tests ts ON ts.task_id = t.id
		 WHERE t.assignment_id = $1
		 GROUP BY t.id`, assignmentID)
	if err != nil {
		return 0, fmt.Errorf("count assignment tests: %w", err)
	}
	defer rows.Close()

	type taskWeight struct {
		id     int64
		nTests int
	}
	var tasks []taskWeight
	for rows.Next() {
		var tw taskWeight
		if err := rows.Scan(&tw.id, &tw.nTests); err != nil {
			return 0, err
		}
		tasks = append(tasks, tw)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var sumGrade, sumTests float32
	for _, tw := range tasks {
		var (
			g    sql.NullFloat64
			late bool
		)
		err := s.db.QueryRowContext(ctx,
			`SELECT grade, was_late FROM user_task_grade WHERE user_id = $1 AND task_id = $2`,
			userID, tw.id).Scan(&g, &late)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("read task grade: %w", err)
		}

		weight := float32(1.0)
		if late {
			weight = 0.5
		}
		sumGrade += float32(g.Float64) * weight * float32(tw.nTests)
		sumTests += float32(tw.nTests)
	}
	if sumTests == 0 {
		return 0, nil
	}
	return sumGrade / sumTests, nil
}

// AssignmentScores returns the aggregate score of every student enrolled
// in a class the assignment is published to. Students enrolled through
// several classes appear once. Instructors are excluded.
func (s *Store) AssignmentScores(ctx context.Context, assignmentID int64) ([]AssignmentGrade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.first_name, u.last_name, u.user_name
		 FROM users u
		 JOIN user_class uc ON uc.user_id = u.id
		 JOIN assignment_class ac ON ac.class_number = uc.class_number
		 WHERE ac.assignment_id = $1 AND uc.is_instructor = FALSE
		 ORDER BY u.id`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list assignment students: %w", err)
	}
	defer rows.Close()

	type student struct {
		id                    int64
		first, last, userName string
	}
	var roster []student
	for rows.Next() {
		var st student
		if err := rows.Scan(&st.id, &st.first, &st.last, &st.userName); err != nil {
			return nil, err
		}
		roster = append(roster, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grades := make([]AssignmentGrade, 0, len(roster))
	for _, st := range roster {
		score, err := s.AssignmentScore(ctx, st.id, assignmentID)
		if err != nil {
			return nil, err
		}
		grades = append(grades, AssignmentGrade{
			Name:     st.first + " " + st.last,
			Username: st.userName,
			Score:    score,
		})
	}
	return grades, nil
}
