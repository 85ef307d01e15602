// Package store provides the lead record store and persisted flow state.
//
// Three backends implement the same Store interface: PostgreSQL, SQLite and
// an in-memory store used for tests and DSN-less runs.
package store

import (
	"context"
	"strings"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
)

// FilterOp selects the comparison a Filter applies.
type FilterOp int

// Filter operators.
const (
	// OpEq matches the column value exactly.
	OpEq FilterOp = iota
	// OpContains matches case-insensitively on a substring; the value is
	// escaped, wildcards in user input are literal.
	OpContains
)

// Filter is a single-column lead query. Flows that need OR semantics across
// columns run one query per column and merge by record id.
type Filter struct {
	Field     string
	Value     string
	Op        FilterOp
	Limit     int
	OrderDesc bool // order by created_at descending
}

// Store is the backing record store contract shared by all backends.
type Store interface {
	// Lead records.
	SelectLeads(ctx context.Context, f Filter) ([]models.Lead, error)
	GetLead(ctx context.Context, id int64) (*models.Lead, error)
	InsertLead(ctx context.Context, lead models.Lead) (*models.Lead, error)
	UpdateLead(ctx context.Context, id int64, patch models.LeadPatch) (*models.Lead, error)

	// Manager ownership operations.
	DistinctManagerNames(ctx context.Context) ([]string, error)
	CountByManager(ctx context.Context, name string) (int, error)
	ManagerTagByName(ctx context.Context, name string) (string, error)
	UpdateManagerTag(ctx context.Context, name, tag string) (int, error)
	TransferManagerLeads(ctx context.Context, from, to, toTag string) (int, error)

	// Persisted flow state, one active flow per actor.
	SaveFlowState(ctx context.Context, state models.FlowState) error
	GetFlowState(ctx context.Context, actor int64) (*models.FlowState, error)
	DeleteFlowState(ctx context.Context, actor int64) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN    string
	Driver string
	// Table is the lead table name. Postgres only; SQLite and the in-memory
	// store ignore it.
	Table string
}

// Option configures store construction.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "postgres"
	}
}

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "sqlite3"
	}
}

// WithTableName sets the lead table name for the PostgreSQL backend. The
// table usually pre-exists in a shared database, so its name is
// deployment-specific.
func WithTableName(name string) Option {
	return func(o *Opts) {
		o.Table = name
	}
}

// DetectDSNType reports "postgres" for PostgreSQL-shaped DSNs and "sqlite"
// for file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
