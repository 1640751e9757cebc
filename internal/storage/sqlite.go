package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/martinsuchenak/podd/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStorage implements Storage with SQLite backend
type SQLiteStorage struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite-based storage
func NewSQLiteStorage(dataDir string) (*SQLiteStorage, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "podd.db")

	// Open database with SQLite settings
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ss := &SQLiteStorage{
		db:   db,
		path: dbPath,
	}

	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return ss, nil
}

// initSchema creates the database schema
func (ss *SQLiteStorage) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	_, err = ss.db.Exec(string(schema))
	return err
}

// Close closes the database connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// GetDatabasePath returns the database file path
func (ss *SQLiteStorage) GetDatabasePath() string {
	return ss.path
}

const targetColumns = `t.id, t.name, t.transport, t.address, t.port, t.username, t.key_path,
       t.os_type, t.guest_id, t.namespace, t.pod, t.container,
       t.switch_address, t.switch_community, t.created_at, t.updated_at`

// ListTargets returns all targets, optionally filtered
func (ss *SQLiteStorage) ListTargets(filter *model.TargetFilter) ([]model.Target, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	query := `SELECT ` + targetColumns + ` FROM targets t`
	var args []interface{}

	if filter != nil && filter.Transport != "" {
		query += " WHERE t.transport = ?"
		args = append(args, filter.Transport)
	}
	query += " ORDER BY t.name"

	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	defer rows.Close()

	targets, err := ss.scanTargets(rows)
	if err != nil {
		return nil, err
	}

	for i := range targets {
		if err := ss.loadTargetTags(&targets[i]); err != nil {
			return nil, err
		}
	}

	if filter != nil && len(filter.Tags) > 0 {
		targets = filterByTags(targets, filter.Tags)
	}

	return targets, nil
}

// GetTarget retrieves a target by ID or name
func (ss *SQLiteStorage) GetTarget(id string) (*model.Target, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	target, err := ss.queryTarget(`SELECT `+targetColumns+` FROM targets t WHERE t.id = ? LIMIT 1`, id)
	if err == nil {
		return target, nil
	}

	return ss.queryTarget(`SELECT `+targetColumns+` FROM targets t WHERE LOWER(t.name) = LOWER(?) LIMIT 1`, id)
}

// CreateTarget adds a new target
func (ss *SQLiteStorage) CreateTarget(target *model.Target) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if target.ID == "" {
		return ErrInvalidID
	}

	now := time.Now()
	target.CreatedAt = now
	target.UpdatedAt = now

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO targets (id, name, transport, address, port, username, key_path,
		                     os_type, guest_id, namespace, pod, container,
		                     switch_address, switch_community, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, target.ID, target.Name, target.Transport, target.Address, target.Port,
		target.Username, target.KeyPath, target.OSType, target.GuestID,
		target.Namespace, target.Pod, target.Container,
		target.SwitchAddress, target.SwitchCommunity, target.CreatedAt, target.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateName
		}
		return fmt.Errorf("inserting target: %w", err)
	}

	if err := ss.insertTargetTags(tx, target.ID, target.Tags); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateTarget updates an existing target
func (ss *SQLiteStorage) UpdateTarget(target *model.Target) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if target.ID == "" {
		return ErrInvalidID
	}

	target.UpdatedAt = time.Now()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE targets
		SET name = ?, transport = ?, address = ?, port = ?, username = ?, key_path = ?,
		    os_type = ?, guest_id = ?, namespace = ?, pod = ?, container = ?,
		    switch_address = ?, switch_community = ?, updated_at = ?
		WHERE id = ?
	`, target.Name, target.Transport, target.Address, target.Port,
		target.Username, target.KeyPath, target.OSType, target.GuestID,
		target.Namespace, target.Pod, target.Container,
		target.SwitchAddress, target.SwitchCommunity, target.UpdatedAt, target.ID)
	if err != nil {
		return fmt.Errorf("updating target: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTargetNotFound
	}

	// Delete and reinsert tags
	if _, err := tx.Exec("DELETE FROM target_tags WHERE target_id = ?", target.ID); err != nil {
		return fmt.Errorf("deleting old tags: %w", err)
	}
	if err := ss.insertTargetTags(tx, target.ID, target.Tags); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteTarget removes a target and its audit records
func (ss *SQLiteStorage) DeleteTarget(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	result, err := ss.db.Exec("DELETE FROM targets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting target: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTargetNotFound
	}

	return nil
}

// SearchTargets searches for targets matching the query
func (ss *SQLiteStorage) SearchTargets(query string) ([]model.Target, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	if query == "" {
		return ss.ListTargets(nil)
	}

	pattern := "%" + strings.ToLower(query) + "%"

	rows, err := ss.db.Query(`
		SELECT DISTINCT `+targetColumns+`
		FROM targets t
		LEFT JOIN target_tags tt ON t.id = tt.target_id
		WHERE LOWER(t.name) LIKE ? OR LOWER(t.address) LIKE ?
		   OR LOWER(t.transport) LIKE ? OR LOWER(tt.tag) LIKE ?
		ORDER BY t.name
	`, pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("searching targets: %w", err)
	}
	defer rows.Close()

	targets, err := ss.scanTargets(rows)
	if err != nil {
		return nil, err
	}

	for i := range targets {
		if err := ss.loadTargetTags(&targets[i]); err != nil {
			return nil, err
		}
	}

	return targets, nil
}

// RecordOperation appends one entry to the audit log
func (ss *SQLiteStorage) RecordOperation(record *model.OperationRecord) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now()
	}

	_, err := ss.db.Exec(`
		INSERT INTO operations (id, target_id, command, exit_code, success, stdout, stderr, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.TargetID, record.Command, record.ExitCode, record.Success,
		record.Stdout, record.Stderr, record.DurationMS, record.StartedAt)
	if err != nil {
		return fmt.Errorf("inserting operation: %w", err)
	}

	return nil
}

// ListOperations returns audit entries, most recent first
func (ss *SQLiteStorage) ListOperations(filter *model.OperationFilter) ([]model.OperationRecord, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	query := `
		SELECT id, target_id, command, exit_code, success, stdout, stderr, duration_ms, started_at
		FROM operations
	`
	var args []interface{}

	if filter != nil && filter.TargetID != "" {
		query += " WHERE target_id = ?"
		args = append(args, filter.TargetID)
	}
	query += " ORDER BY started_at DESC"
	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer rows.Close()

	var records []model.OperationRecord
	for rows.Next() {
		var r model.OperationRecord
		if err := rows.Scan(&r.ID, &r.TargetID, &r.Command, &r.ExitCode, &r.Success,
			&r.Stdout, &r.Stderr, &r.DurationMS, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// Helper functions

func (ss *SQLiteStorage) queryTarget(query string, args ...interface{}) (*model.Target, error) {
	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying target: %w", err)
	}
	defer rows.Close()

	targets, err := ss.scanTargets(rows)
	if err != nil {
		return nil, err
	}

	if len(targets) == 0 {
		return nil, ErrTargetNotFound
	}

	if err := ss.loadTargetTags(&targets[0]); err != nil {
		return nil, err
	}

	return &targets[0], nil
}

func (ss *SQLiteStorage) scanTargets(rows *sql.Rows) ([]model.Target, error) {
	var targets []model.Target

	for rows.Next() {
		var t model.Target
		err := rows.Scan(&t.ID, &t.Name, &t.Transport, &t.Address, &t.Port,
			&t.Username, &t.KeyPath, &t.OSType, &t.GuestID,
			&t.Namespace, &t.Pod, &t.Container,
			&t.SwitchAddress, &t.SwitchCommunity, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning target: %w", err)
		}
		targets = append(targets, t)
	}

	return targets, rows.Err()
}

func (ss *SQLiteStorage) loadTargetTags(target *model.Target) error {
	rows, err := ss.db.Query("SELECT tag FROM target_tags WHERE target_id = ? ORDER BY tag", target.ID)
	if err != nil {
		return fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return err
		}
		tags = append(tags, tag)
	}

	target.Tags = tags
	return rows.Err()
}

func (ss *SQLiteStorage) insertTargetTags(tx *sql.Tx, targetID string, tags []string) error {
	for _, tag := range tags {
		if _, err := tx.Exec("INSERT INTO target_tags (target_id, tag) VALUES (?, ?)", targetID, tag); err != nil {
			return fmt.Errorf("inserting tag: %w", err)
		}
	}
	return nil
}

func filterByTags(targets []model.Target, tags []string) []model.Target {
	var filtered []model.Target

	for _, target := range targets {
		for _, filterTag := range tags {
			matched := false
			for _, targetTag := range target.Tags {
				if strings.EqualFold(targetTag, filterTag) {
					filtered = append(filtered, target)
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
	}

	return filtered
}
