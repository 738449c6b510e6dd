// Package registry is the Device Registry (C7): the SQLite-backed store of
// record for commissioned devices, their unique IDs, and their last known
// attribute values.
package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("registry: not found")

// Registry wraps the database connection backing the device registry.
// SQLite is single-writer by design, so a single shared connection serializes
// callers through database/sql instead of fighting for write locks across
// multiple underlying connections.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending migrations.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: set pragma %q: %w", pragma, err)
		}
	}

	r := &Registry{db: db}
	if err := r.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: run migrations: %w", err)
	}
	return r, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) runMigrations() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read current schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if prev, exists := seen[version]; exists {
			return fmt.Errorf("duplicate migration version %04d: %q and %q", version, prev, entry.Name())
		}
		seen[version] = entry.Name()
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		description := strings.TrimSuffix(parts[1], ".sql")

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := r.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			version, time.Now(), description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		slog.Info("registry: applied migration", "version", fmt.Sprintf("%04d", version), "description", description)
	}
	return nil
}

// UpsertDevice inserts or updates a device row.
func (r *Registry) UpsertDevice(ctx context.Context, d types.Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device (node_id, endpoint, device_type, topic_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id, endpoint) DO UPDATE SET
			device_type = excluded.device_type,
			topic_id = excluded.topic_id,
			name = excluded.name,
			updated_at = excluded.updated_at
	`, d.NodeID, d.Endpoint, d.DeviceType, d.TopicID, d.Name, time.Now(), time.Now())
	if err != nil {
		return fmt.Errorf("registry: upsert device: %w", err)
	}
	return nil
}

// GetDevice retrieves one device endpoint by (NodeID, Endpoint).
func (r *Registry) GetDevice(ctx context.Context, node types.NodeID, endpoint types.Endpoint) (types.Device, error) {
	var d types.Device
	err := r.db.QueryRowContext(ctx, `
		SELECT node_id, endpoint, device_type, topic_id, name
		FROM device WHERE node_id = ? AND endpoint = ?
	`, node, endpoint).Scan(&d.NodeID, &d.Endpoint, &d.DeviceType, &d.TopicID, &d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Device{}, ErrNotFound
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("registry: get device: %w", err)
	}
	return d, nil
}

// GetDeviceByTopicID retrieves the device whose MQTT Homie topic id is
// topicID. Used by the MQTT Controller to resolve an inbound "homie/.../set"
// message back to a (NodeID, Endpoint) pair.
func (r *Registry) GetDeviceByTopicID(ctx context.Context, topicID types.TopicID) (types.Device, error) {
	var d types.Device
	err := r.db.QueryRowContext(ctx, `
		SELECT node_id, endpoint, device_type, topic_id, name
		FROM device WHERE topic_id = ?
	`, topicID).Scan(&d.NodeID, &d.Endpoint, &d.DeviceType, &d.TopicID, &d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Device{}, ErrNotFound
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("registry: get device by topic id: %w", err)
	}
	return d, nil
}

// ListDevices returns every tracked device endpoint.
func (r *Registry) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, endpoint, device_type, topic_id, name FROM device ORDER BY node_id, endpoint
	`)
	if err != nil {
		return nil, fmt.Errorf("registry: list devices: %w", err)
	}
	defer rows.Close()

	var out []types.Device
	for rows.Next() {
		var d types.Device
		if err := rows.Scan(&d.NodeID, &d.Endpoint, &d.DeviceType, &d.TopicID, &d.Name); err != nil {
			return nil, fmt.Errorf("registry: scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDevice removes a device endpoint and its attributes (cascade).
func (r *Registry) DeleteDevice(ctx context.Context, node types.NodeID, endpoint types.Endpoint) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM device WHERE node_id = ? AND endpoint = ?", node, endpoint)
	if err != nil {
		return fmt.Errorf("registry: delete device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeviceName renames a device (the friendly name an operator assigns).
func (r *Registry) SetDeviceName(ctx context.Context, node types.NodeID, endpoint types.Endpoint, name string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE device SET name = ?, updated_at = ? WHERE node_id = ? AND endpoint = ?
	`, name, time.Now(), node, endpoint)
	if err != nil {
		return fmt.Errorf("registry: set device name: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertUniqueID records the fabric-assigned unique identifier for a node.
func (r *Registry) UpsertUniqueID(ctx context.Context, u types.UniqueID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO unique_id (node_id, name, unique_id) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET name = excluded.name, unique_id = excluded.unique_id
	`, u.NodeID, u.Name, u.UniqueID)
	if err != nil {
		return fmt.Errorf("registry: upsert unique id: %w", err)
	}
	return nil
}

// GetAttributeType returns the fixed type recorded for an attribute, or
// ErrNotFound if it has never been observed. Callers use this to enforce
// invariant I1 (an attribute's type is immutable once set).
func (r *Registry) GetAttributeType(ctx context.Context, a types.Attribute) (string, error) {
	var typ string
	err := r.db.QueryRowContext(ctx, `
		SELECT type FROM attribute WHERE node_id = ? AND endpoint = ? AND cluster = ? AND attribute = ?
	`, a.NodeID, a.Endpoint, a.Cluster, a.Attribute).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("registry: get attribute type: %w", err)
	}
	return typ, nil
}

// UpsertAttribute records an attribute's latest value. If the attribute was
// previously observed with a different Type, ErrTypeMismatch is returned
// and the row is left unchanged (invariant I1).
var ErrTypeMismatch = errors.New("registry: attribute type is immutable once set")

func (r *Registry) UpsertAttribute(ctx context.Context, a types.Attribute) error {
	existing, err := r.GetAttributeType(ctx, a)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil && existing != a.Type {
		return fmt.Errorf("%w: %s.%s was %q, got %q", ErrTypeMismatch, a.Cluster, a.Attribute, existing, a.Type)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attribute (node_id, endpoint, cluster, attribute, type, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id, endpoint, cluster, attribute) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at
	`, a.NodeID, a.Endpoint, a.Cluster, a.Attribute, a.Type, a.Value, time.Now())
	if err != nil {
		return fmt.Errorf("registry: upsert attribute: %w", err)
	}
	return nil
}

// ListAttributes returns every tracked attribute for a device endpoint.
func (r *Registry) ListAttributes(ctx context.Context, node types.NodeID, endpoint types.Endpoint) ([]types.Attribute, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, endpoint, cluster, attribute, type, value
		FROM attribute WHERE node_id = ? AND endpoint = ?
	`, node, endpoint)
	if err != nil {
		return nil, fmt.Errorf("registry: list attributes: %w", err)
	}
	defer rows.Close()

	var out []types.Attribute
	for rows.Next() {
		var a types.Attribute
		if err := rows.Scan(&a.NodeID, &a.Endpoint, &a.Cluster, &a.Attribute, &a.Type, &a.Value); err != nil {
			return nil, fmt.Errorf("registry: scan attribute: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// NextNodeID returns one greater than the highest NodeID currently tracked,
// enforcing invariant I2 (monotonically increasing NodeID) for the
// Commissioning Orchestrator's auto-assigned IDs. Callers that commission
// against a caller-supplied NodeID bypass this.
func (r *Registry) NextNodeID(ctx context.Context) (uint64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT node_id FROM device")
	if err != nil {
		return 0, fmt.Errorf("registry: scan node ids: %w", err)
	}
	defer rows.Close()

	var max uint64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, fmt.Errorf("registry: scan node id: %w", err)
		}
		var n uint64
		if _, err := fmt.Sscanf(strings.TrimPrefix(raw, "0x"), "%x", &n); err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, rows.Err()
}
