// Package catalog records classified store keys in a SQLite database so
// they can be searched after the store itself is closed.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/worldlens/worldlens/internal/worlddb"
	_ "modernc.org/sqlite"
)

const defaultPageSize = 100

// SQLiteCatalog stores exports and their key entries in SQLite.
type SQLiteCatalog struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteCatalog opens (creating if needed) the catalog at dbPath.
func NewSQLiteCatalog(dbPath string, logger *logrus.Logger) (*SQLiteCatalog, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	c := &SQLiteCatalog{
		db:     db,
		logger: logger,
	}

	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}

	logger.WithField("path", dbPath).Debug("Key catalog initialized")
	return c, nil
}

// initSchema creates the tables and indexes if they don't exist
func (c *SQLiteCatalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exports (
		id TEXT PRIMARY KEY,
		store_path TEXT NOT NULL,
		level_name TEXT,
		engine TEXT,
		key_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		export_id TEXT NOT NULL REFERENCES exports(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		label TEXT NOT NULL,
		key_hex TEXT NOT NULL,
		dimension INTEGER,
		x INTEGER,
		z INTEGER,
		subtype TEXT,
		subchunk_index INTEGER,
		actor_id INTEGER,
		village_uuid TEXT,
		value_size INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_exports_store_path ON exports(store_path);
	CREATE INDEX IF NOT EXISTS idx_entries_export_id ON entries(export_id, position);
	CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_chunk ON entries(dimension, x, z);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create catalog schema: %w", err)
	}
	return nil
}

// Export classifies every key of the store folder (resolving it if needed)
// and writes them to the catalog in a single transaction.
func (c *SQLiteCatalog) Export(ctx context.Context, folder *worlddb.Folder, opts ExportOptions) (*Export, error) {
	start := time.Now()
	ks, err := folder.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve keys: %w", err)
	}

	export := &Export{
		ID:        uuid.NewString(),
		StorePath: folder.Path(),
		LevelName: folder.LevelName(),
		Engine:    string(folder.Engine()),
		KeyCount:  len(ks),
		CreatedAt: time.Now().UTC(),
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin export: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exports (id, store_path, level_name, engine, key_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, export.ID, export.StorePath, export.LevelName, export.Engine, export.KeyCount, export.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert export: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (
			export_id, position, kind, label, key_hex, dimension, x, z,
			subtype, subchunk_index, actor_id, village_uuid, value_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for i, k := range ks {
		e := entryFromRecord(i, k.Record())
		if opts.WithValueSizes {
			v, err := k.Value(ctx)
			if err != nil {
				c.logger.WithError(err).WithField("key", e.KeyHex).Warn("Failed to read value size")
			} else {
				e.ValueSize = ptr(int64(len(v)))
			}
		}

		_, err := stmt.ExecContext(ctx,
			export.ID,
			e.Position,
			e.Kind,
			e.Label,
			e.KeyHex,
			nullInt(e.Dimension),
			nullInt(e.X),
			nullInt(e.Z),
			e.Subtype,
			nullInt(e.SubchunkIndex),
			nullInt(e.ActorID),
			e.VillageUUID,
			nullInt(e.ValueSize),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit export: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"export_id": export.ID,
		"store":     export.StorePath,
		"keys":      export.KeyCount,
		"duration":  time.Since(start),
	}).Info("Store exported to catalog")
	return export, nil
}

// Exports lists every export, newest first.
func (c *SQLiteCatalog) Exports(ctx context.Context) ([]*Export, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, store_path, level_name, engine, key_count, created_at
		FROM exports
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer rows.Close()

	var exports []*Export
	for rows.Next() {
		e := &Export{}
		var levelName, engine sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.StorePath, &levelName, &engine, &e.KeyCount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		e.LevelName = levelName.String
		e.Engine = engine.String
		e.CreatedAt = time.Unix(created, 0).UTC()
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

// Query returns a page of entries matching filters, in store order, and the
// total number of matches.
func (c *SQLiteCatalog) Query(ctx context.Context, filters *Filters) ([]*Entry, int, error) {
	if filters == nil {
		filters = &Filters{}
	}
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = defaultPageSize
	}

	whereClause, args := buildWhereClause(filters)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM entries e JOIN exports x ON x.id = e.export_id %s", whereClause)
	if err := c.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count entries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.export_id, e.position, e.kind, e.label, e.key_hex,
		       e.dimension, e.x, e.z, e.subtype, e.subchunk_index, e.actor_id,
		       e.village_uuid, e.value_size
		FROM entries e JOIN exports x ON x.id = e.export_id
		%s
		ORDER BY x.created_at, e.export_id, e.position
		LIMIT ? OFFSET ?
	`, whereClause)
	args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var dim, x, z, sub, actor, size sql.NullInt64
		var subtype, village sql.NullString
		err := rows.Scan(&e.ID, &e.ExportID, &e.Position, &e.Kind, &e.Label, &e.KeyHex,
			&dim, &x, &z, &subtype, &sub, &actor, &village, &size)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Dimension = fromNull(dim)
		e.X = fromNull(x)
		e.Z = fromNull(z)
		e.SubchunkIndex = fromNull(sub)
		e.ActorID = fromNull(actor)
		e.ValueSize = fromNull(size)
		e.Subtype = subtype.String
		e.VillageUUID = village.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Summary counts the entries of one export by kind.
func (c *SQLiteCatalog) Summary(ctx context.Context, exportID string) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT kind, COUNT(*) FROM entries WHERE export_id = ? GROUP BY kind", exportID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize export: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// DeleteExport removes an export and its entries.
func (c *SQLiteCatalog) DeleteExport(ctx context.Context, exportID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE export_id = ?", exportID); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM exports WHERE id = ?", exportID)
	if err != nil {
		return fmt.Errorf("failed to delete export: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: export %s", worlddb.ErrNotFound, exportID)
	}
	return tx.Commit()
}

// Close closes the database connection
func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// buildWhereClause builds the WHERE clause and arguments for filtering
func buildWhereClause(filters *Filters) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filters.ExportID != "" {
		conditions = append(conditions, "e.export_id = ?")
		args = append(args, filters.ExportID)
	}
	if filters.StorePath != "" {
		conditions = append(conditions, "x.store_path = ?")
		args = append(args, filters.StorePath)
	}
	if filters.Kind != "" {
		conditions = append(conditions, "e.kind = ?")
		args = append(args, filters.Kind)
	}
	if filters.Subtype != "" {
		conditions = append(conditions, "e.subtype = ?")
		args = append(args, filters.Subtype)
	}
	if filters.Dimension != nil {
		conditions = append(conditions, "e.dimension = ?")
		args = append(args, *filters.Dimension)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
