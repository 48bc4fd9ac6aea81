package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config carries everything the service reads from the environment. Fields
// are plain values; validation that depends on the chosen driver happens at
// boot.
type Config struct {
	HTTPAddr string
	TLSCert  string
	TLSKey   string
	// InsecureHTTP serves plain HTTP instead of TLS. Local development only.
	InsecureHTTP bool

	DBDriver string
	DBDSN    string // full DSN override; composed from PSQL_* when empty
	PSQLName string
	PSQLPass string
	PSQLHost string
	PSQLDB   string

	NThreads  int // concurrent grading permits
	QueueSize int // pending submission queue capacity

	DockerfilesDir   string
	WorkDir          string
	ContainerRuntime string // docker|podman

	PasswordScheme string // legacy|bcrypt
	AdminUserName  string // promoted to admin at boot when set

	CORSOrigins []string

	LogLevel string
}

func FromEnv() Config {
	return Config{
		HTTPAddr:     envOr("HTTP_ADDR", ":9090"),
		TLSCert:      envOr("TLS_CERT", "cert.pem"),
		TLSKey:       envOr("TLS_KEY", "key.pem"),
		InsecureHTTP: envBool("INSECURE_HTTP", false),

		DBDriver: envOr("DB_DRIVER", "postgres"),
		DBDSN:    os.Getenv("DB_DSN"),
		PSQLName: os.Getenv("PSQL_NAME"),
		PSQLPass: os.Getenv("PSQL_PASS"),
		PSQLHost: envOr("PSQL_HOST", "localhost"),
		PSQLDB:   os.Getenv("PSQL_DB"),

		NThreads:  envInt("NTHREADS", 20),
		QueueSize: envInt("QUEUE_SIZE", 100),

		DockerfilesDir:   envOr("DOCKERFILES_DIR", "dockerfiles"),
		WorkDir:          envOr("WORK_DIR", "/tmp/securegrade"),
		ContainerRuntime: envOr("CONTAINER_RUNTIME", "docker"),

		PasswordScheme: envOr("AUTH_PASSWORD_SCHEME", "legacy"),
		AdminUserName:  os.Getenv("ADMIN_USER_NAME"),

		CORSOrigins: csvOr("ALLOWED_ORIGINS", "http://localhost:3000"),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}
}

// DSN returns the connection string for the configured driver. For postgres
// it composes a URL from the PSQL_* pieces with search_path pinned to the
// autograder schema; DB_DSN overrides everything.
func (c Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	if c.DBDriver == "sqlite" {
		return "file:securegrade.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	dbName := c.PSQLDB
	if dbName == "" {
		dbName = c.PSQLName
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PSQLName, c.PSQLPass),
		Host:   c.PSQLHost,
		Path:   "/" + dbName,
	}
	q := url.Values{}
	q.Set("search_path", "autograder")
	u.RawQuery = q.Encode()
	return u.String()
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
