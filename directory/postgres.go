package directory

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v4"

	"github.com/synqronlabs/smtpd/utils"
)

// DefaultMailboxQuery checks a mailboxes table keyed by full address.
const DefaultMailboxQuery = `SELECT EXISTS(SELECT 1 FROM mailboxes WHERE address = $1 AND active)`

// Querier is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Postgres looks recipients up in a database. The query takes the
// normalized address as its only parameter and returns one boolean.
type Postgres struct {
	db     Querier
	query  string
	logger *slog.Logger
}

// NewPostgres returns a directory running query against db. An empty query
// uses DefaultMailboxQuery.
func NewPostgres(db Querier, query string, logger *slog.Logger) *Postgres {
	if query == "" {
		query = DefaultMailboxQuery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, query: query, logger: logger}
}

// IsValidUser reports whether the query finds address. Database errors
// reject the address.
func (p *Postgres) IsValidUser(ctx context.Context, address string) bool {
	var exists bool
	err := p.db.QueryRow(ctx, p.query, utils.NormalizeAddress(address)).Scan(&exists)
	if err != nil {
		p.logger.Error("mailbox lookup failed",
			slog.String("address", address),
			slog.Any("error", err),
		)
		return false
	}
	return exists
}
