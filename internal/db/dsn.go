package db

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	driverPostgres = "pgx"
	driverSQLite   = "sqlite"
)

// driverFor picks the database/sql driver for a DSN. sqlite://path,
// file: URIs, :memory: and *.db / *.sqlite paths go to SQLite; anything
// else is handed to pgx.
func driverFor(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return driverSQLite, strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return driverSQLite, dsn
	case strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return driverSQLite, dsn
	}
	return driverPostgres, dsn
}

// WithDBName returns a DSN identical to the input but with the database path replaced.
// Supports postgres:// and postgresql:// schemes.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if d, _ := driverFor(dsn); d == driverSQLite {
		return "", fmt.Errorf("cannot rename database of sqlite DSN %q", dsn)
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// rebind rewrites $N placeholders to ? for drivers without numbered
// parameters. Each $N must appear once and in order.
func rebind(driver, query string) string {
	if driver != driverSQLite || !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('?')
		i = j - 1
	}
	return b.String()
}
