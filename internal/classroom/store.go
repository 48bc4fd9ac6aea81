// Package classroom manages classes, enrollment and join codes.
package classroom

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound means the class does not exist.
	ErrNotFound = errors.New("class not found")

	// ErrUnknownUser means no user carries the given user name.
	ErrUnknownUser = errors.New("unknown user")

	// ErrBadInput rejects malformed class data before it reaches the database.
	ErrBadInput = errors.New("bad input")
)

const joinCodeTTL = time.Hour

// ClassItem is one class in a user's class list.
type ClassItem struct {
	ClassNumber      string  `json:"class_number"`
	ClassDescription *string `json:"class_description"`
}

// InstructorInfo names an instructor on a class page.
type InstructorInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserInfo is the roster entry used by enrollment pickers.
type UserInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Store reads and writes classes and enrollment.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for join code expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateClass registers a new class under its catalog number.
func (s *Store) CreateClass(ctx context.Context, number, description string) error {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return fmt.Errorf("create class: %w", ErrBadInput)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO classes (class_number, class_description) VALUES ($1, $2)`,
		number, description); err != nil {
		return fmt.Errorf("create class %s: %w", number, err)
	}
	return nil
}

// canonical resolves a class number case-insensitively to its stored form,
// so path parameters in any casing land on the same row.
func (s *Store) canonical(ctx context.Context, class string) (string, error) {
	var number string
	err := s.db.QueryRowContext(ctx,
		`SELECT class_number FROM classes WHERE UPPER(class_number) = UPPER($1)`, class).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("class %q: %w", class, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve class: %w", err)
	}
	return number, nil
}

// AddStudent enrolls the named user in the class as a student. Enrolling
// twice is a no-op.
func (s *Store) AddStudent(ctx context.Context, class, userName string) error {
	return s.enroll(ctx, class, userName, false)
}

// AddInstructor enrolls the named user in the class as an instructor.
func (s *Store) AddInstructor(ctx context.Context, class, userName string) error {
	return s.enroll(ctx, class, userName, true)
}

func (s *Store) enroll(ctx context.Context, class, userName string, instructor bool) error {
	number, err := s.canonical(ctx, class)
	if err != nil {
		return err
	}

	var userID int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE user_name = $1`, userName).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%q: %w", userName, ErrUnknownUser)
	}
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_class (user_id, class_number, is_instructor)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		userID, number, instructor); err != nil {
		return fmt.Errorf("enroll %s in %s: %w", userName, number, err)
	}
	return nil
}

// GenerateJoinCode mints a fresh 6-character join code for the class and
// revokes any previous one. Codes expire after an hour.
func (s *Store) GenerateJoinCode(ctx context.Context, class string) (string, error) {
	number, err := s.canonical(ctx, class)
	if err != nil {
		return "", err
	}

	var raw [3]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate join code: %w", err)
	}
	code := strings.ToUpper(hex.EncodeToString(raw[:]))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM class_join_code WHERE class_number = $1`, number); err != nil {
		return "", fmt.Errorf("revoke old join codes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO class_join_code (join_code, class_number, expiration) VALUES ($1, $2, $3)`,
		code, number, s.now().Add(joinCodeTTL).Unix()); err != nil {
		return "", fmt.Errorf("store join code: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return code, nil
}

// JoinClass enrolls the user as a student of the class the code belongs
// to. Codes are case-insensitive. Returns false for a code that does not
// exist or has expired; joining a class twice succeeds quietly.
func (s *Store) JoinClass(ctx context.Context, userID int64, code string) (bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	var (
		number  string
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT class_number, expiration FROM class_join_code WHERE join_code = $1`, code).
		Scan(&number, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up join code: %w", err)
	}
	if s.now().After(time.Unix(expires, 0)) {
		return false, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_class (user_id, class_number, is_instructor)
		 VALUES ($1, $2, FALSE) ON CONFLICT DO NOTHING`,
		userID, number); err != nil {
		return false, fmt.Errorf("join class %s: %w", number, err)
	}
	return true, nil
}

// ClassesForUser lists the classes the user belongs to, either role.
func (s *Store) ClassesForUser(ctx context.Context, userID int64) ([]ClassItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.class_number, c.class_description
		 FROM classes c
		 JOIN user_class uc ON uc.class_number = c.class_number
		 WHERE uc.user_id = $1
		 ORDER BY c.class_number`, userID)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()

	classes := []ClassItem{}
	for rows.Next() {
		var (
			item ClassItem
			desc sql.NullString
		)
		if err := rows.Scan(&item.ClassNumber, &desc); err != nil {
			return nil, err
		}
		if desc.Valid {
			item.ClassDescription = &desc.String
		}
		classes = append(classes, item)
	}
	return classes, rows.Err()
}

// Instructors lists who teaches the class.
func (s *Store) Instructors(ctx context.Context, class string) ([]InstructorInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.first_name, u.last_name
		 FROM users u
		 JOIN user_class uc ON uc.user_id = u.id
		 WHERE UPPER(uc.class_number) = UPPER($1) AND uc.is_instructor = TRUE
		 ORDER BY u.last_name, u.first_name`, class)
	if err != nil {
		return nil, fmt.Errorf("list instructors: %w", err)
	}
	defer rows.Close()

	instructors := []InstructorInfo{}
	for rows.Next() {
		var info InstructorInfo
		if err := rows.Scan(&info.FirstName, &info.LastName); err != nil {
			return nil, err
		}
		instructors = append(instructors, info)
	}
	return instructors, rows.Err()
}

// ListStudents returns every non-admin user, skipping members of
// excludeClass when it is non-empty. Instructors use it to find who can
// still be added to a class.
func (s *Store) ListStudents(ctx context.Context, excludeClass string) ([]UserInfo, error) {
	query := `SELECT first_name, last_name, user_name FROM users WHERE is_admin = FALSE`
	args := []any{}
	if excludeClass != "" {
		query += ` AND id NOT IN (
			SELECT user_id FROM user_class WHERE UPPER(class_number) = UPPER($1))`
		args = append(args, excludeClass)
	}
	query += ` ORDER BY user_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	users := []UserInfo{}
	for rows.Next() {
		var info UserInfo
		if err := rows.Scan(&info.FirstName, &info.LastName, &info.Username); err != nil {
			return nil, err
		}
		users = append(users, info)
	}
	return users, rows.Err()
}
