package auth

import (
	"crypto/sha512"

	"golang.org/x/crypto/bcrypt"
)

// Scheme selects how signup stores credentials. Legacy is the historical
// split-salt digest and remains the default so existing user_auth rows keep
// working; bcrypt is the opt-in replacement for new deployments.
type Scheme string

const (
	SchemeLegacy Scheme = "legacy"
	SchemeBcrypt Scheme = "bcrypt"
)

const bcryptCost = 12

// CredentialHash derives the legacy storage hash for a user/password pair:
// SHA-512 over the first half of the user name, the password, then the
// second half. The user name acts as a deterministic salt, so the same
// password stored for two users yields two different rows.
func CredentialHash(userName, pass string) []byte {
	u := []byte(userName)
	half := len(u) / 2
	h := sha512.New()
	h.Write(u[:half])
	h.Write([]byte(pass))
	h.Write(u[half:])
	return h.Sum(nil)
}

func bcryptHash(pass string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(pass), bcryptCost)
}

func compareBcrypt(hash []byte, pass string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil
}

// isBcryptHash reports whether a stored credential row is a bcrypt string
// rather than a raw SHA-512 digest. Bcrypt output always begins "$2".
func isBcryptHash(b []byte) bool {
	return len(b) > 2 && b[0] == '$' && b[1] == '2'
}
