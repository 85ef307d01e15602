// Package store provides storage backends for lead records.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "embed"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// DefaultLeadTable is the lead table used when no table name is configured.
const DefaultLeadTable = "facebook_leads"

// PostgresStore is the PostgreSQL Store implementation. The lead table name
// is configurable; flow_states is always fixed.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "dsn_set", cfg.DSN != "", "table", cfg.Table)

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultLeadTable
	}
	if !validTableName(table) {
		return nil, fmt.Errorf("invalid lead table name: %s", table)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running PostgreSQL migrations", "table", table)
	if _, err := db.Exec(strings.ReplaceAll(postgresMigrations, "{{table}}", table)); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db, table: table}, nil
}

const pgLeadColumns = `id, fullname, COALESCE(facebook_link, ''), COALESCE(telegram_name, ''), COALESCE(telegram_id, ''), COALESCE(manager_name, ''), COALESCE(manager_tag, ''), COALESCE(photo_url, ''), created_at`

// SelectLeads returns leads matching a single-column filter.
func (s *PostgresStore) SelectLeads(ctx context.Context, f Filter) ([]models.Lead, error) {
	if !validLeadColumn(f.Field) {
		return nil, fmt.Errorf("invalid filter column: %s", f.Field)
	}

	query := `SELECT ` + pgLeadColumns + ` FROM ` + s.table + ` WHERE `
	var arg string
	switch f.Op {
	case OpContains:
		query += f.Field + ` ILIKE $1`
		arg = "%" + escapeLike(f.Value) + "%"
	default:
		query += f.Field + ` = $1`
		arg = f.Value
	}
	if f.OrderDesc {
		query += ` ORDER BY created_at DESC`
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	var leads []models.Lead
	err := withRetry(ctx, "SelectLeads", func() error {
		rows, err := s.db.QueryContext(ctx, query, arg)
		if err != nil {
			return fmt.Errorf("failed to query leads: %w", err)
		}
		defer rows.Close()
		leads = leads[:0]
		for rows.Next() {
			l, err := scanLead(rows)
			if err != nil {
				return fmt.Errorf("failed to scan lead row: %w", err)
			}
			leads = append(leads, l)
		}
		return rows.Err()
	})
	if err != nil {
		slog.Error("PostgresStore SelectLeads failed", "error", err, "field", f.Field)
		return nil, err
	}
	slog.Debug("PostgresStore SelectLeads succeeded", "field", f.Field, "count", len(leads))
	return leads, nil
}

// GetLead returns a lead by id, or (nil, nil) when absent.
func (s *PostgresStore) GetLead(ctx context.Context, id int64) (*models.Lead, error) {
	var lead *models.Lead
	err := withRetry(ctx, "GetLead", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+pgLeadColumns+` FROM `+s.table+` WHERE id = $1`, id)
		l, err := scanLead(row)
		if err == sql.ErrNoRows {
			lead = nil
			return nil
		}
		if err != nil {
			return err
		}
		lead = &l
		return nil
	})
	if err != nil {
		slog.Error("PostgresStore GetLead failed", "error", err, "id", id)
		return nil, err
	}
	return lead, nil
}

// InsertLead creates a lead and returns it with its assigned id.
func (s *PostgresStore) InsertLead(ctx context.Context, lead models.Lead) (*models.Lead, error) {
	var id int64
	err := withRetry(ctx, "InsertLead", func() error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO `+s.table+` (fullname, facebook_link, telegram_name, telegram_id, manager_name, manager_tag, photo_url)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			lead.Fullname, nilIfEmpty(lead.FacebookLink), nilIfEmpty(lead.TelegramName),
			nilIfEmpty(lead.TelegramID), nilIfEmpty(lead.ManagerName),
			nilIfEmpty(lead.ManagerTag), nilIfEmpty(lead.PhotoURL)).Scan(&id)
	})
	if err != nil {
		slog.Error("PostgresStore InsertLead failed", "error", err)
		return nil, fmt.Errorf("failed to insert lead: %w", err)
	}
	slog.Debug("PostgresStore InsertLead succeeded", "id", id)
	return s.GetLead(ctx, id)
}

// UpdateLead applies a partial update and returns the fresh record.
func (s *PostgresStore) UpdateLead(ctx context.Context, id int64, patch models.LeadPatch) (*models.Lead, error) {
	sets, args := patchAssignments(patch, func(i int) string { return fmt.Sprintf("$%d", i+1) })
	if len(sets) == 0 {
		return s.GetLead(ctx, id)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, s.table, joinAssignments(sets), len(args))

	err := withRetry(ctx, "UpdateLead", func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		slog.Error("PostgresStore UpdateLead failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to update lead %d: %w", id, err)
	}
	slog.Debug("PostgresStore UpdateLead succeeded", "id", id, "fields", len(sets))
	return s.GetLead(ctx, id)
}

// DistinctManagerNames returns the sorted set of non-empty manager names.
func (s *PostgresStore) DistinctManagerNames(ctx context.Context) ([]string, error) {
	var names []string
	err := withRetry(ctx, "DistinctManagerNames", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT manager_name FROM `+s.table+` WHERE manager_name IS NOT NULL AND manager_name != '' ORDER BY manager_name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		names = names[:0]
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return err
			}
			names = append(names, n)
		}
		return rows.Err()
	})
	if err != nil {
		slog.Error("PostgresStore DistinctManagerNames failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore DistinctManagerNames succeeded", "count", len(names))
	return names, nil
}

// CountByManager returns the number of leads owned by a manager.
func (s *PostgresStore) CountByManager(ctx context.Context, name string) (int, error) {
	var count int
	err := withRetry(ctx, "CountByManager", func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table+` WHERE manager_name = $1`, name).Scan(&count)
	})
	if err != nil {
		slog.Error("PostgresStore CountByManager failed", "error", err, "manager", name)
		return 0, err
	}
	return count, nil
}

// ManagerTagByName returns a manager's current tag from any of their leads,
// or "" when unknown.
func (s *PostgresStore) ManagerTagByName(ctx context.Context, name string) (string, error) {
	var tag sql.NullString
	err := withRetry(ctx, "ManagerTagByName", func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT manager_tag FROM `+s.table+` WHERE manager_name = $1 AND manager_tag IS NOT NULL AND manager_tag != '' LIMIT 1`,
			name).Scan(&tag)
		if err == sql.ErrNoRows {
			tag = sql.NullString{}
			return nil
		}
		return err
	})
	if err != nil {
		slog.Error("PostgresStore ManagerTagByName failed", "error", err, "manager", name)
		return "", err
	}
	return tag.String, nil
}

// UpdateManagerTag sets the tag on every lead owned by the manager and
// returns the affected count.
func (s *PostgresStore) UpdateManagerTag(ctx context.Context, name, tag string) (int, error) {
	var affected int64
	err := withRetry(ctx, "UpdateManagerTag", func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE `+s.table+` SET manager_tag = $1 WHERE manager_name = $2`, tag, name)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		slog.Error("PostgresStore UpdateManagerTag failed", "error", err, "manager", name)
		return 0, err
	}
	slog.Debug("PostgresStore UpdateManagerTag succeeded", "manager", name, "affected", affected)
	return int(affected), nil
}

// TransferManagerLeads reassigns every lead of manager from to manager to,
// setting the new owner's tag, and returns the affected count.
func (s *PostgresStore) TransferManagerLeads(ctx context.Context, from, to, toTag string) (int, error) {
	var affected int64
	err := withRetry(ctx, "TransferManagerLeads", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE `+s.table+` SET manager_name = $1, manager_tag = $2 WHERE manager_name = $3`, to, toTag, from)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		slog.Error("PostgresStore TransferManagerLeads failed", "error", err, "from", from, "to", to)
		return 0, err
	}
	slog.Debug("PostgresStore TransferManagerLeads succeeded", "from", from, "to", to, "affected", affected)
	return int(affected), nil
}

// SaveFlowState stores or replaces the actor's flow state.
func (s *PostgresStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	var stateDataJSON string
	if len(state.StateData) > 0 {
		jsonBytes, err := json.Marshal(state.StateData)
		if err != nil {
			slog.Error("PostgresStore SaveFlowState JSON marshal failed", "error", err, "actor", state.ActorID)
			return err
		}
		stateDataJSON = string(jsonBytes)
	}

	err := withRetry(ctx, "SaveFlowState", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO flow_states (actor_id, flow_type, current_state, state_data, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (actor_id) DO UPDATE SET
			   flow_type = EXCLUDED.flow_type,
			   current_state = EXCLUDED.current_state,
			   state_data = EXCLUDED.state_data,
			   updated_at = EXCLUDED.updated_at`,
			state.ActorID, string(state.FlowType), string(state.CurrentState),
			stateDataJSON, state.CreatedAt, state.UpdatedAt)
		return err
	})
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "actor", state.ActorID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("PostgresStore SaveFlowState succeeded", "actor", state.ActorID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves the actor's flow state, or (nil, nil) when absent.
func (s *PostgresStore) GetFlowState(ctx context.Context, actor int64) (*models.FlowState, error) {
	var state models.FlowState
	var stateDataJSON string
	found := false

	err := withRetry(ctx, "GetFlowState", func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT actor_id, flow_type, current_state, state_data, created_at, updated_at
			 FROM flow_states WHERE actor_id = $1`, actor).Scan(
			&state.ActorID, &state.FlowType, &state.CurrentState,
			&stateDataJSON, &state.CreatedAt, &state.UpdatedAt)
		if err == sql.ErrNoRows {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "actor", actor)
		return nil, err
	}
	if !found {
		return nil, nil
	}

	if stateDataJSON != "" {
		state.StateData = make(map[string]string)
		if err := json.Unmarshal([]byte(stateDataJSON), &state.StateData); err != nil {
			slog.Error("PostgresStore GetFlowState JSON unmarshal failed", "error", err, "actor", actor)
			state.StateData = make(map[string]string)
		}
	}
	return &state, nil
}

// DeleteFlowState removes the actor's flow state.
func (s *PostgresStore) DeleteFlowState(ctx context.Context, actor int64) error {
	err := withRetry(ctx, "DeleteFlowState", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE actor_id = $1`, actor)
		return err
	})
	if err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "actor", actor)
		return err
	}
	slog.Debug("PostgresStore DeleteFlowState succeeded", "actor", actor)
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
