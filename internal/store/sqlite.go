// Package store provides storage backends for lead records.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the file-backed Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// The containing directory is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "dsn_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteLeadColumns = `id, fullname, COALESCE(facebook_link, ''), COALESCE(telegram_name, ''), COALESCE(telegram_id, ''), COALESCE(manager_name, ''), COALESCE(manager_tag, ''), COALESCE(photo_url, ''), created_at`

func scanLead(row interface{ Scan(...any) error }) (models.Lead, error) {
	var l models.Lead
	err := row.Scan(&l.ID, &l.Fullname, &l.FacebookLink, &l.TelegramName,
		&l.TelegramID, &l.ManagerName, &l.ManagerTag, &l.PhotoURL, &l.CreatedAt)
	return l, err
}

// SelectLeads returns leads matching a single-column filter.
func (s *SQLiteStore) SelectLeads(ctx context.Context, f Filter) ([]models.Lead, error) {
	if !validLeadColumn(f.Field) {
		return nil, fmt.Errorf("invalid filter column: %s", f.Field)
	}

	query := `SELECT ` + sqliteLeadColumns + ` FROM leads WHERE `
	var arg string
	switch f.Op {
	case OpContains:
		query += `LOWER(` + f.Field + `) LIKE LOWER(?) ESCAPE '\'`
		arg = "%" + escapeLike(f.Value) + "%"
	default:
		query += f.Field + ` = ?`
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
		slog.Error("SQLiteStore SelectLeads failed", "error", err, "field", f.Field)
		return nil, err
	}
	slog.Debug("SQLiteStore SelectLeads succeeded", "field", f.Field, "count", len(leads))
	return leads, nil
}

// GetLead returns a lead by id, or (nil, nil) when absent.
func (s *SQLiteStore) GetLead(ctx context.Context, id int64) (*models.Lead, error) {
	var lead *models.Lead
	err := withRetry(ctx, "GetLead", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+sqliteLeadColumns+` FROM leads WHERE id = ?`, id)
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
		slog.Error("SQLiteStore GetLead failed", "error", err, "id", id)
		return nil, err
	}
	return lead, nil
}

// InsertLead creates a lead and returns it with its assigned id.
func (s *SQLiteStore) InsertLead(ctx context.Context, lead models.Lead) (*models.Lead, error) {
	var id int64
	err := withRetry(ctx, "InsertLead", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO leads (fullname, facebook_link, telegram_name, telegram_id, manager_name, manager_tag, photo_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			lead.Fullname, nilIfEmpty(lead.FacebookLink), nilIfEmpty(lead.TelegramName),
			nilIfEmpty(lead.TelegramID), nilIfEmpty(lead.ManagerName),
			nilIfEmpty(lead.ManagerTag), nilIfEmpty(lead.PhotoURL))
		if err != nil {
			return fmt.Errorf("failed to insert lead: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		slog.Error("SQLiteStore InsertLead failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore InsertLead succeeded", "id", id)
	return s.GetLead(ctx, id)
}

// UpdateLead applies a partial update and returns the fresh record.
func (s *SQLiteStore) UpdateLead(ctx context.Context, id int64, patch models.LeadPatch) (*models.Lead, error) {
	sets, args := patchAssignments(patch, func(int) string { return "?" })
	if len(sets) == 0 {
		return s.GetLead(ctx, id)
	}
	args = append(args, id)
	query := `UPDATE leads SET ` + joinAssignments(sets) + ` WHERE id = ?`

	err := withRetry(ctx, "UpdateLead", func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		slog.Error("SQLiteStore UpdateLead failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to update lead %d: %w", id, err)
	}
	slog.Debug("SQLiteStore UpdateLead succeeded", "id", id, "fields", len(sets))
	return s.GetLead(ctx, id)
}

// DistinctManagerNames returns the sorted set of non-empty manager names.
func (s *SQLiteStore) DistinctManagerNames(ctx context.Context) ([]string, error) {
	var names []string
	err := withRetry(ctx, "DistinctManagerNames", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT manager_name FROM leads WHERE manager_name IS NOT NULL AND manager_name != '' ORDER BY manager_name`)
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
		slog.Error("SQLiteStore DistinctManagerNames failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore DistinctManagerNames succeeded", "count", len(names))
	return names, nil
}

// CountByManager returns the number of leads owned by a manager.
func (s *SQLiteStore) CountByManager(ctx context.Context, name string) (int, error) {
	var count int
	err := withRetry(ctx, "CountByManager", func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE manager_name = ?`, name).Scan(&count)
	})
	if err != nil {
		slog.Error("SQLiteStore CountByManager failed", "error", err, "manager", name)
		return 0, err
	}
	return count, nil
}

// ManagerTagByName returns a manager's current tag from any of their leads,
// or "" when unknown.
func (s *SQLiteStore) ManagerTagByName(ctx context.Context, name string) (string, error) {
	var tag sql.NullString
	err := withRetry(ctx, "ManagerTagByName", func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT manager_tag FROM leads WHERE manager_name = ? AND manager_tag IS NOT NULL AND manager_tag != '' LIMIT 1`,
			name).Scan(&tag)
		if err == sql.ErrNoRows {
			tag = sql.NullString{}
			return nil
		}
		return err
	})
	if err != nil {
		slog.Error("SQLiteStore ManagerTagByName failed", "error", err, "manager", name)
		return "", err
	}
	return tag.String, nil
}

// UpdateManagerTag sets the tag on every lead owned by the manager and
// returns the affected count.
func (s *SQLiteStore) UpdateManagerTag(ctx context.Context, name, tag string) (int, error) {
	var affected int64
	err := withRetry(ctx, "UpdateManagerTag", func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE leads SET manager_tag = ? WHERE manager_name = ?`, tag, name)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		slog.Error("SQLiteStore UpdateManagerTag failed", "error", err, "manager", name)
		return 0, err
	}
	slog.Debug("SQLiteStore UpdateManagerTag succeeded", "manager", name, "affected", affected)
	return int(affected), nil
}

// TransferManagerLeads reassigns every lead of manager from to manager to,
// setting the new owner's tag, and returns the affected count.
func (s *SQLiteStore) TransferManagerLeads(ctx context.Context, from, to, toTag string) (int, error) {
	var affected int64
	err := withRetry(ctx, "TransferManagerLeads", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE leads SET manager_name = ?, manager_tag = ? WHERE manager_name = ?`, to, toTag, from)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		slog.Error("SQLiteStore TransferManagerLeads failed", "error", err, "from", from, "to", to)
		return 0, err
	}
	slog.Debug("SQLiteStore TransferManagerLeads succeeded", "from", from, "to", to, "affected", affected)
	return int(affected), nil
}

// SaveFlowState stores or replaces the actor's flow state.
func (s *SQLiteStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	var stateDataJSON string
	if len(state.StateData) > 0 {
		jsonBytes, err := json.Marshal(state.StateData)
		if err != nil {
			slog.Error("SQLiteStore SaveFlowState JSON marshal failed", "error", err, "actor", state.ActorID)
			return err
		}
		stateDataJSON = string(jsonBytes)
	}

	err := withRetry(ctx, "SaveFlowState", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO flow_states (actor_id, flow_type, current_state, state_data, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			state.ActorID, string(state.FlowType), string(state.CurrentState),
			stateDataJSON, state.CreatedAt, state.UpdatedAt)
		return err
	})
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "actor", state.ActorID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("SQLiteStore SaveFlowState succeeded", "actor", state.ActorID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves the actor's flow state, or (nil, nil) when absent.
func (s *SQLiteStore) GetFlowState(ctx context.Context, actor int64) (*models.FlowState, error) {
	var state models.FlowState
	var stateDataJSON string
	found := false

	err := withRetry(ctx, "GetFlowState", func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT actor_id, flow_type, current_state, state_data, created_at, updated_at
			 FROM flow_states WHERE actor_id = ?`, actor).Scan(
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
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "actor", actor)
		return nil, err
	}
	if !found {
		return nil, nil
	}

	if stateDataJSON != "" {
		state.StateData = make(map[string]string)
		if err := json.Unmarshal([]byte(stateDataJSON), &state.StateData); err != nil {
			slog.Error("SQLiteStore GetFlowState JSON unmarshal failed", "error", err, "actor", actor)
			state.StateData = make(map[string]string)
		}
	}
	return &state, nil
}

// DeleteFlowState removes the actor's flow state.
func (s *SQLiteStore) DeleteFlowState(ctx context.Context, actor int64) error {
	err := withRetry(ctx, "DeleteFlowState", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE actor_id = ?`, actor)
		return err
	})
	if err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "actor", actor)
		return err
	}
	slog.Debug("SQLiteStore DeleteFlowState succeeded", "actor", actor)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
