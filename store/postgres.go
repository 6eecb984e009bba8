package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v4/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/wdatafacility/wdf/schema"
)

// Config represents the PostgreSQL endpoint configuration.
type Config struct {
	Host     string
	Port     uint16
	User     string
	Password string
	DBName   string
}

// Validate the configuration.
func (c *Config) Validate() error {
	var requiredProperties = [][]string{
		{"host", c.Host},
		{"user", c.User},
		{"password", c.Password},
	}
	for _, req := range requiredProperties {
		if req[1] == "" {
			return fmt.Errorf("missing '%s'", req[0])
		}
	}
	return nil
}

// ToURI converts the Config to a DSN string.
func (c *Config) ToURI() string {
	var host = c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", host, c.Port)
	}
	var uri = url.URL{
		Scheme: "postgres",
		Host:   host,
		User:   url.UserPassword(c.User, c.Password),
	}
	if c.DBName != "" {
		uri.Path = "/" + c.DBName
	}
	return uri.String()
}

// OpenPostgres opens a PostgreSQL store. A dedicated connection is acquired
// from the pool for the COPY fast path.
func OpenPostgres(ctx context.Context, uri string) (*Store, error) {
	log.WithField("uri", redacted(uri)).Info("opening database")

	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("opening Postgres database: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging Postgres database: %w", err)
	}

	conn, err := stdlib.AcquireConn(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgx.AcquireConn: %w", err)
	}

	return &Store{db: db, dialect: schema.Postgres, copyConn: conn}, nil
}

func redacted(uri string) string {
	var u, err = url.Parse(uri)
	if err != nil {
		return uri
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
