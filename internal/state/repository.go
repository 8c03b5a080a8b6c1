package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

// Repository defines the persistence interface for routes and module
// state. The abstraction enables unit testing without a database.
type Repository interface {
	// Route persistence
	SaveRoute(ctx context.Context, route bus.Route) error
	DeleteRoute(ctx context.Context, id string) error
	GetRoute(ctx context.Context, id string) (bus.Route, error)
	ListRoutes(ctx context.Context) ([]bus.Route, error)

	// Module state persistence
	SaveModuleState(ctx context.Context, moduleID string, state map[string]any) error
	GetModuleState(ctx context.Context, moduleID string) (map[string]any, error)
}

// routeColumns is the SELECT column list for route queries.
const routeColumns = `id, source, target, event, conditions, merge, enabled`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveRoute inserts or replaces a route definition. The in-memory
// transform func is not persistable and is dropped; declarative routes
// carry their payload rewrite in the merge overlay.
func (r *SQLiteRepository) SaveRoute(ctx context.Context, route bus.Route) error {
	conditionsJSON, err := json.Marshal(route.Conditions)
	if err != nil {
		return fmt.Errorf("marshalling conditions: %w", err)
	}

	var mergeJSON sql.NullString
	if route.Merge != nil {
		data, err := json.Marshal(route.Merge)
		if err != nil {
			return fmt.Errorf("marshalling merge overlay: %w", err)
		}
		mergeJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO routes (id, source, target, event, conditions, merge, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			target = excluded.target,
			event = excluded.event,
			conditions = excluded.conditions,
			merge = excluded.merge,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		route.ID,
		route.Source,
		route.Target,
		route.Event,
		string(conditionsJSON),
		mergeJSON,
		boolToInt(route.Enabled),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("saving route: %w", err)
	}
	return nil
}

// DeleteRoute removes a route definition.
func (r *SQLiteRepository) DeleteRoute(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM routes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting route: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrRouteNotFound
	}
	return nil
}

// GetRoute retrieves a single route definition.
func (r *SQLiteRepository) GetRoute(ctx context.Context, id string) (bus.Route, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+routeColumns+` FROM routes WHERE id = ?`, id)

	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bus.Route{}, ErrRouteNotFound
		}
		return bus.Route{}, fmt.Errorf("querying route: %w", err)
	}
	return route, nil
}

// ListRoutes retrieves all persisted routes ordered by ID.
func (r *SQLiteRepository) ListRoutes(ctx context.Context) ([]bus.Route, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+routeColumns+` FROM routes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	var routes []bus.Route
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating routes: %w", err)
	}
	return routes, nil
}

// SaveModuleState inserts or replaces the state blob for a module.
func (r *SQLiteRepository) SaveModuleState(ctx context.Context, moduleID string, state map[string]any) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling module state: %w", err)
	}

	query := `
		INSERT INTO module_state (module_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(module_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query,
		moduleID,
		string(stateJSON),
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("saving module state: %w", err)
	}
	return nil
}

// GetModuleState retrieves the last saved state for a module.
func (r *SQLiteRepository) GetModuleState(ctx context.Context, moduleID string) (map[string]any, error) {
	var stateJSON string
	err := r.db.QueryRowContext(ctx,
		`SELECT state FROM module_state WHERE module_id = ?`, moduleID,
	).Scan(&stateJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModuleStateNotFound
		}
		return nil, fmt.Errorf("querying module state: %w", err)
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("unmarshalling module state: %w", err)
	}
	return state, nil
}

// scanner abstracts sql.Row and sql.Rows for scanRoute.
type scanner interface {
	Scan(dest ...any) error
}

func scanRoute(s scanner) (bus.Route, error) {
	var (
		route          bus.Route
		conditionsJSON string
		mergeJSON      sql.NullString
		enabled        int
	)

	if err := s.Scan(
		&route.ID,
		&route.Source,
		&route.Target,
		&route.Event,
		&conditionsJSON,
		&mergeJSON,
		&enabled,
	); err != nil {
		return bus.Route{}, err
	}

	if err := json.Unmarshal([]byte(conditionsJSON), &route.Conditions); err != nil {
		return bus.Route{}, fmt.Errorf("unmarshalling conditions: %w", err)
	}
	if mergeJSON.Valid {
		if err := json.Unmarshal([]byte(mergeJSON.String), &route.Merge); err != nil {
			return bus.Route{}, fmt.Errorf("unmarshalling merge overlay: %w", err)
		}
	}
	route.Enabled = enabled != 0

	return route, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LoadRoutesInto replays every persisted route into the bus route
// table. Called once at startup before modules begin publishing.
func LoadRoutesInto(ctx context.Context, repo Repository, b *bus.Bus) (int, error) {
	routes, err := repo.ListRoutes(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading routes: %w", err)
	}
	for _, route := range routes {
		if err := b.AddRoute(route); err != nil {
			return 0, fmt.Errorf("restoring route %q: %w", route.ID, err)
		}
	}
	return len(routes), nil
}
