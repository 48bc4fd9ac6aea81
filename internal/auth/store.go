package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrBadCredentials means the user/password pair matched no account.
	ErrBadCredentials = errors.New("invalid credentials")
	// ErrInvalidSession means the presented token is unknown or expired.
	ErrInvalidSession = errors.New("invalid session")
)

const sessionTTL = time.Hour

// Store owns users, credentials and sessions. Sessions are opaque: the
// client-held token never appears in the database, only its digest, and a
// fresh login revokes every earlier session of that user.
type Store struct {
	db     *sql.DB
	scheme Scheme
	now    func() time.Time
}

type Option func(*Store)

// WithScheme switches the credential scheme used by Signup.
func WithScheme(sc Scheme) Option {
	return func(s *Store) {
		if sc != "" {
			s.scheme = sc
		}
	}
}

// WithClock overrides the time source. Tests use it to force expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, scheme: SchemeLegacy, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type NewUser struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	UserName  string `json:"user_name"`
	Email     string `json:"email"`
	Pass      string `json:"pass"`
}

// Signup creates the account plus its credential row and logs the new user
// straight in. The returned string is the wire-form session token.
func (s *Store) Signup(ctx context.Context, u NewUser) (string, error) {
	var hash []byte
	var err error
	switch s.scheme {
	case SchemeBcrypt:
		hash, err = bcryptHash(u.Pass)
		if err != nil {
			return "", fmt.Errorf("hash password: %w", err)
		}
	default:
		hash = CredentialHash(u.UserName, u.Pass)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var userID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (first_name, last_name, user_name, email) VALUES ($1,$2,$3,$4) RETURNING id`,
		u.FirstName, u.LastName, u.UserName, strings.ToLower(u.Email)).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_auth (hash, user_id) VALUES ($1,$2)`, hash, userID); err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}

	token, err := s.createSession(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return token, nil
}

// Login authenticates and issues a fresh session. The legacy path looks the
// credential row up directly by its derived hash; when the bcrypt scheme is
// active and that misses, stored bcrypt rows for the user name are compared
// instead, so both generations of credentials keep working side by side.
func (s *Store) Login(ctx context.Context, userName, pass string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var userID int64
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM user_auth WHERE hash=$1`,
		CredentialHash(userName, pass)).Scan(&userID)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		if s.scheme != SchemeBcrypt {
			return "", ErrBadCredentials
		}
		userID, err = bcryptLookup(ctx, tx, userName, pass)
		if err != nil {
			return "", err
		}
	default:
		return "", err
	}

	token, err := s.createSession(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return token, nil
}

func bcryptLookup(ctx context.Context, tx *sql.Tx, userName, pass string) (int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT a.hash, a.user_id FROM user_auth a JOIN users u ON u.id = a.user_id WHERE u.user_name=$1`,
		userName)
	if err != nil {
		return 0, err
	}
	type cred struct {
		hash   []byte
		userID int64
	}
	var creds []cred
	for rows.Next() {
		var c cred
		if err := rows.Scan(&c.hash, &c.userID); err != nil {
			rows.Close()
			return 0, err
		}
		creds = append(creds, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, c := range creds {
		if isBcryptHash(c.hash) && compareBcrypt(c.hash, pass) {
			return c.userID, nil
		}
	}
	return 0, ErrBadCredentials
}

// createSession replaces every live session of the user with a new one.
func (s *Store) createSession(ctx context.Context, tx *sql.Tx, userID int64) (string, error) {
	raw, err := newToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_session WHERE user_id=$1`, userID); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_session (session_hash, expiration, user_id) VALUES ($1,$2,$3)`,
		TokenDigest(raw), s.now().Add(sessionTTL).Unix(), userID); err != nil {
		return "", err
	}
	return EncodeToken(raw), nil
}

// UserFromToken resolves a wire token to a user id, enforcing expiry.
func (s *Store) UserFromToken(ctx context.Context, token string) (int64, error) {
	raw, err := DecodeToken(token)
	if err != nil {
		return 0, ErrInvalidSession
	}
	var userID, exp int64
	err = s.db.QueryRowContext(ctx,
		`SELECT user_id, expiration FROM user_session WHERE session_hash=$1`,
		TokenDigest(raw)).Scan(&userID, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInvalidSession
	}
	if err != nil {
		return 0, err
	}
	if exp <= s.now().Unix() {
		return 0, ErrInvalidSession
	}
	return userID, nil
}

// Valid reports whether the token maps to a live session.
func (s *Store) Valid(ctx context.Context, token string) (bool, error) {
	_, err := s.UserFromToken(ctx, token)
	if errors.Is(err, ErrInvalidSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsAdmin reports whether the token belongs to an admin account. An invalid
// session surfaces as ErrInvalidSession, not as false, so callers can tell
// "who are you" failures from "not allowed" ones.
func (s *Store) IsAdmin(ctx context.Context, token string) (bool, error) {
	userID, err := s.UserFromToken(ctx, token)
	if err != nil {
		return false, err
	}
	return s.IsAdminUser(ctx, userID)
}

func (s *Store) IsAdminUser(ctx context.Context, userID int64) (bool, error) {
	var admin bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_admin FROM users WHERE id=$1`, userID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return admin, nil
}

// IsInstructor reports whether the token's user instructs the given class.
func (s *Store) IsInstructor(ctx context.Context, token, classNumber string) (bool, error) {
	userID, err := s.UserFromToken(ctx, token)
	if err != nil {
		return false, err
	}
	return s.IsInstructorOf(ctx, userID, classNumber)
}

func (s *Store) IsInstructorOf(ctx context.Context, userID int64, classNumber string) (bool, error) {
	var instructor bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_instructor FROM user_class WHERE user_id=$1 AND class_number=$2`,
		userID, strings.ToUpper(classNumber)).Scan(&instructor)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return instructor, nil
}

// IsStudent reports whether the token's user is enrolled in the class as a
// non-instructor.
func (s *Store) IsStudent(ctx context.Context, token, classNumber string) (bool, error) {
	userID, err := s.UserFromToken(ctx, token)
	if err != nil {
		return false, err
	}
	return s.IsStudentOf(ctx, userID, classNumber)
}

func (s *Store) IsStudentOf(ctx context.Context, userID int64, classNumber string) (bool, error) {
	var instructor bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_instructor FROM user_class WHERE user_id=$1 AND class_number=$2`,
		userID, strings.ToUpper(classNumber)).Scan(&instructor)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !instructor, nil
}

// PromoteAdmin flips is_admin for an existing account. Signup can never
// grant admin; boot calls this for ADMIN_USER_NAME.
func (s *Store) PromoteAdmin(ctx context.Context, userName string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_admin=TRUE WHERE user_name=$1`, userName)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
