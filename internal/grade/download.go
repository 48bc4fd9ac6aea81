package grade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DownloadSubmissions bundles every archive the named student handed in
// for an assignment into a single zip, one Task<id>.zip per task. Returns
// ErrNotFound when the student is unknown or has no submissions.
func (s *Store) DownloadSubmissions(ctx context.Context, userName string, assignmentID int64) ([]byte, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE user_name = $1`, userName).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", userName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT g.task_id, g.submission_zip
		 FROM user_task_grade g
		 JOIN tasks t ON t.id = g.task_id
		 WHERE g.user_id = $1 AND t.assignment_id = $2
		 ORDER BY g.task_id`, userID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("collect submissions: %w", err)
	}
	defer rows.Close()

	type submission struct {
		taskID  int64
		archive []byte
	}
	var subs []submission
	for rows.Next() {
		var sub submission
		if err := rows.Scan(&sub.taskID, &sub.archive); err != nil {
			return nil, err
		}
		if len(sub.archive) > 0 {
			subs = append(subs, sub)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNotFound
	}

	// Scratch dir name includes a uuid so two instructors downloading the
	// same student at once cannot collide.
	dir := filepath.Join(s.work, "download", fmt.Sprintf("%s-%d-%s", userName, assignmentID, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for _, sub := range subs {
		name := filepath.Join(dir, fmt.Sprintf("Task%d.zip", sub.taskID))
		if err := os.WriteFile(name, sub.archive, 0o644); err != nil {
			return nil, fmt.Errorf("stage %s: %w", filepath.Base(name), err)
		}
	}

	// `zip -rj` flattens the staged task archives into one bundle and
	// skips the output file itself.
	bundle := filepath.Join(dir, fmt.Sprintf("%s-%d.zip", userName, assignmentID))
	if out, err := exec.CommandContext(ctx, "zip", "-rj", bundle, dir).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("bundle submissions: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return os.ReadFile(bundle)
}
