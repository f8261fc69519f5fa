// Package endpoint resolves the immutable address of the database the pool
// connects to. Resolution happens once, at pool construction; nothing here
// is ever mutated afterward.
package endpoint

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Scheme identifies which driver a Descriptor targets.
type Scheme string

const (
	SchemePostgres Scheme = "postgres"
	SchemeMySQL    Scheme = "mysql"
)

func normalizeScheme(s string) (Scheme, bool) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql":
		return SchemePostgres, true
	case "mysql":
		return SchemeMySQL, true
	default:
		return "", false
	}
}

func defaultPort(s Scheme) int {
	switch s {
	case SchemeMySQL:
		return 3306
	default:
		return 5432
	}
}

// Descriptor is the parsed, immutable address of the target database.
type Descriptor struct {
	Scheme   Scheme
	Host     string
	Port     int
	Database string
	User     string
	Secret   string
}

// Env variable names consulted during resolution.
const (
	EnvDatabaseURL = "DBPOOL_DATABASE_URL"
	EnvScheme      = "DBPOOL_DB_SCHEME"
	EnvHost        = "DBPOOL_DB_HOST"
	EnvPort        = "DBPOOL_DB_PORT"
	EnvDatabase    = "DBPOOL_DB_NAME"
	EnvUser        = "DBPOOL_DB_USER"
	EnvSecret      = "DBPOOL_DB_PASSWORD"
)

// Resolve builds a Descriptor from the process environment. A full
// connection URL takes precedence when present and non-empty; otherwise
// the descriptor is assembled from individual component variables with
// defaults applied for host, port, database, and user. An empty secret is
// permitted but logged as insecure.
func Resolve() (*Descriptor, error) {
	return ResolveFrom(os.LookupEnv)
}

// ResolveFrom is Resolve with an injectable lookup function, used by tests.
func ResolveFrom(lookup func(string) (string, bool)) (*Descriptor, error) {
	if raw, ok := lookup(EnvDatabaseURL); ok && raw != "" {
		d, err := fromURL(raw)
		if err != nil {
			return nil, err
		}
		slog.Info("endpoint resolved", "source", "url", "scheme", d.Scheme, "host", d.Host, "port", d.Port)
		return d, nil
	}

	d, err := fromComponents(lookup)
	if err != nil {
		return nil, err
	}
	slog.Info("endpoint resolved", "source", "components", "scheme", d.Scheme, "host", d.Host, "port", d.Port)
	return d, nil
}

func fromURL(raw string) (*Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid database url: %v", err)}
	}

	scheme, ok := normalizeScheme(u.Scheme)
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid scheme %q", u.Scheme)}
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := defaultPort(scheme)
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid port %q", p)}
		}
		port = parsed
	}

	dbname := strings.TrimPrefix(u.Path, "/")
	if dbname == "" {
		dbname = defaultDatabase(scheme)
	}

	user := defaultUser(scheme)
	secret := ""
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			user = name
		}
		secret, _ = u.User.Password()
	}

	if secret == "" {
		slog.Warn("endpoint has no secret configured", "source", "url")
	}

	return &Descriptor{
		Scheme:   scheme,
		Host:     host,
		Port:     port,
		Database: dbname,
		User:     user,
		Secret:   secret,
	}, nil
}

func fromComponents(lookup func(string) (string, bool)) (*Descriptor, error) {
	schemeRaw, ok := lookup(EnvScheme)
	if !ok || schemeRaw == "" {
		schemeRaw = string(SchemePostgres)
	}
	scheme, ok := normalizeScheme(schemeRaw)
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid scheme %q", schemeRaw)}
	}

	host := "localhost"
	if v, ok := lookup(EnvHost); ok && v != "" {
		host = v
	}

	port := defaultPort(scheme)
	if v, ok := lookup(EnvPort); ok && v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid port %q", v)}
		}
		port = parsed
	}

	dbname := defaultDatabase(scheme)
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		dbname = v
	}

	user := defaultUser(scheme)
	if v, ok := lookup(EnvUser); ok && v != "" {
		user = v
	}

	secret, _ := lookup(EnvSecret)
	if secret == "" {
		slog.Warn("endpoint has no secret configured", "source", "components")
	}

	return &Descriptor{
		Scheme:   scheme,
		Host:     host,
		Port:     port,
		Database: dbname,
		User:     user,
		Secret:   secret,
	}, nil
}

func defaultDatabase(s Scheme) string {
	if s == SchemeMySQL {
		return "mysql"
	}
	return "postgres"
}

func defaultUser(s Scheme) string {
	if s == SchemeMySQL {
		return "root"
	}
	return "postgres"
}

// Address formats the host:port pair for dialing.
func (d *Descriptor) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Redacted returns a copy of the descriptor with the secret masked, safe
// for logging.
func (d Descriptor) Redacted() Descriptor {
	if d.Secret != "" {
		d.Secret = "***REDACTED***"
	}
	return d
}

// ConfigError indicates the endpoint could not be resolved: a missing URL
// combined with an invalid fallback, or an unrecognized scheme.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "endpoint config error: " + e.Reason
}
