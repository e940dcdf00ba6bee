package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// quoteDSNValue quotes a DSN value if it contains spaces or special
// characters, per the libpq keyword/value format.
func quoteDSNValue(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// PostgresConnectionString builds a keyword/value connection string for pgx.
func (c *Config) PostgresConnectionString() string {
	parts := []string{
		"host=" + quoteDSNValue(c.PostgresHost),
		"port=" + strconv.Itoa(c.PostgresPort),
		"user=" + quoteDSNValue(c.PostgresUser),
		"dbname=" + quoteDSNValue(c.PostgresDBName),
		"sslmode=" + quoteDSNValue(c.PostgresSSLMode),
	}
	if c.PostgresPassword != "" {
		parts = append(parts, "password="+quoteDSNValue(c.PostgresPassword))
	}
	return strings.Join(parts, " ")
}

// PostgresURL builds a postgres:// URL, used by the migration runner.
// url.URL handles percent-encoding of credentials.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.PostgresSSLMode),
	}
	if c.PostgresPassword != "" {
		u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
	} else {
		u.User = url.User(c.PostgresUser)
	}
	return u.String()
}

// parseDatabaseURL applies the DATABASE_URL environment variable, when set,
// over the individual postgres_* settings. Managed platforms inject
// connection info this way.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if host := u.Hostname(); host != "" {
		c.PostgresHost = host
	}
	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", portStr, err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			c.PostgresUser = name
		}
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if dbName := strings.TrimPrefix(u.Path, "/"); dbName != "" {
		c.PostgresDBName = dbName
	}
	if sslMode := u.Query().Get("sslmode"); sslMode != "" {
		c.PostgresSSLMode = sslMode
	}
	return nil
}
