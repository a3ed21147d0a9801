package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
)

// CollectionRepository reads and writes collections of any kind
type CollectionRepository struct {
	db       DBTX
	dialect  Dialect
	catalog  *Catalog
	settings *SettingsRepository
}

// NewCollectionRepository creates a new CollectionRepository
func NewCollectionRepository(db DBTX, dialect Dialect, catalog *Catalog, settings *SettingsRepository) *CollectionRepository {
	return &CollectionRepository{db: db, dialect: dialect, catalog: catalog, settings: settings}
}

// Resolve returns the storage of a collection name
func (r *CollectionRepository) Resolve(name string) (*Collection, error) {
	return r.catalog.Resolve(name)
}

// Read returns every record of the collection in row order. Failures are
// logged and degrade to an empty result.
func (r *CollectionRepository) Read(ctx context.Context, name string) []models.Record {
	records, err := r.Load(ctx, name)
	if err != nil {
		observability.WithContext(ctx).WithField("collection", name).
			Errorf("Collection read failed, returning empty result: %v", err)
		return []models.Record{}
	}
	return records
}

// Load returns every record of the collection in row order
func (r *CollectionRepository) Load(ctx context.Context, name string) ([]models.Record, error) {
	coll, err := r.catalog.Resolve(name)
	if err != nil {
		return nil, err
	}

	switch coll.Kind {
	case KindSettings:
		return r.loadSettings(ctx, coll)
	case KindDataBag:
		return r.queryDataBag(ctx, coll, "", "")
	default:
		return r.queryStructured(ctx, coll, "", "")
	}
}

// LoadWhere returns the records whose column equals value
func (r *CollectionRepository) LoadWhere(ctx context.Context, name, column, value string) ([]models.Record, error) {
	coll, err := r.catalog.Resolve(name)
	if err != nil {
		return nil, err
	}

	switch coll.Kind {
	case KindStructured:
		if !coll.HasColumn(column) {
			return nil, models.Validationf("collection %s has no column %s", name, column)
		}
		return r.queryStructured(ctx, coll, column, value)
	case KindDataBag:
		if column == "id" {
			return r.queryDataBag(ctx, coll, column, value)
		}
	}

	all, err := r.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, 0)
	for _, rec := range all {
		if rec.String(column) == value {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Write stores records with the replace semantics of the collection kind:
// settings are overwritten, data bags are deleted and reinserted, structured
// tables are upserted by id so dependent rows keep their references.
func (r *CollectionRepository) Write(ctx context.Context, name string, records []models.Record) error {
	coll, err := r.catalog.Resolve(name)
	if err != nil {
		return err
	}

	switch coll.Kind {
	case KindSettings:
		return r.saveSettings(ctx, coll, records)
	case KindDataBag:
		if err := requireIDs(records); err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, quoteIdent(coll.Table))); err != nil {
			return fmt.Errorf("clear %s: %w", coll.Table, err)
		}
		_, err := r.insertDataBag(ctx, coll, records, false)
		return err
	default:
		if err := requireIDs(records); err != nil {
			return err
		}
		_, err := r.insertStructured(ctx, coll, records, false)
		return err
	}
}

// Append inserts records whose id is not stored yet and returns the ones
// actually inserted. Existing rows are left untouched.
func (r *CollectionRepository) Append(ctx context.Context, name string, records []models.Record) ([]models.Record, error) {
	coll, err := r.catalog.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := requireIDs(records); err != nil {
		return nil, err
	}

	switch coll.Kind {
	case KindSettings:
		return r.appendSettings(ctx, coll, records)
	case KindDataBag:
		return r.insertDataBag(ctx, coll, records, true)
	default:
		return r.insertStructured(ctx, coll, records, true)
	}
}

// Count returns the number of stored records
func (r *CollectionRepository) Count(ctx context.Context, name string) (int, error) {
	coll, err := r.catalog.Resolve(name)
	if err != nil {
		return 0, err
	}

	if coll.Kind == KindSettings {
		records, err := r.loadSettings(ctx, coll)
		if err != nil {
			return 0, err
		}
		return len(records), nil
	}

	var count int
	err = r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(coll.Table))).Scan(&count)
	return count, err
}

// DeleteByTerminal removes the records produced by terminalID, or every record
// when terminalID is empty. It returns the number of records removed.
func (r *CollectionRepository) DeleteByTerminal(ctx context.Context, name, terminalID string) (int64, error) {
	coll, err := r.catalog.Resolve(name)
	if err != nil {
		return 0, err
	}

	switch coll.Kind {
	case KindSettings:
		records, err := r.loadSettings(ctx, coll)
		if err != nil {
			return 0, err
		}
		kept := []models.Record{}
		if terminalID != "" {
			kept, _ = models.FilterByTerminal(records, terminalID)
		}
		removed := int64(len(records) - len(kept))
		if removed == 0 {
			return 0, nil
		}
		return removed, r.saveSettings(ctx, coll, kept)
	case KindStructured:
		query := fmt.Sprintf(`DELETE FROM %s`, quoteIdent(coll.Table))
		var args []interface{}
		if terminalID != "" {
			if !coll.HasColumn("terminalId") {
				return 0, nil
			}
			query += ` WHERE "terminalId" = $1`
			args = append(args, terminalID)
		}
		result, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("delete from %s: %w", coll.Table, err)
		}
		return result.RowsAffected()
	default:
		if terminalID == "" {
			result, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, quoteIdent(coll.Table)))
			if err != nil {
				return 0, fmt.Errorf("delete from %s: %w", coll.Table, err)
			}
			return result.RowsAffected()
		}
		records, err := r.queryDataBag(ctx, coll, "", "")
		if err != nil {
			return 0, err
		}
		_, removed := models.FilterByTerminal(records, terminalID)
		query := fmt.Sprintf(`DELETE FROM %s WHERE "id" = $1`, quoteIdent(coll.Table))
		for _, rec := range removed {
			if _, err := r.db.ExecContext(ctx, query, rec.ID()); err != nil {
				return 0, fmt.Errorf("delete from %s: %w", coll.Table, err)
			}
		}
		return int64(len(removed)), nil
	}
}

// orderClause keeps reads stable. SQLite returns insertion order; Postgres has
// no insertion sequence on collection tables and sorts by id.
func (r *CollectionRepository) orderClause() string {
	if r.dialect == DialectSQLite {
		return ` ORDER BY rowid`
	}
	return ` ORDER BY "id"`
}

func (r *CollectionRepository) queryStructured(ctx context.Context, coll *Collection, column, value string) ([]models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s`, quoteList(coll.Columns), quoteIdent(coll.Table))
	var args []interface{}
	if column != "" {
		query += fmt.Sprintf(` WHERE %s = $1`, quoteIdent(column))
		args = append(args, value)
	}
	query += r.orderClause()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll.Table, err)
	}
	defer rows.Close()

	records := make([]models.Record, 0)
	for rows.Next() {
		raw := make([]interface{}, len(coll.Columns))
		ptrs := make([]interface{}, len(coll.Columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", coll.Table, err)
		}

		rec := make(models.Record, len(coll.Columns))
		for i, col := range coll.Columns {
			rec[col] = decodeColumn(coll.Fields, coll.Name, col, raw[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *CollectionRepository) queryDataBag(ctx context.Context, coll *Collection, column, value string) ([]models.Record, error) {
	query := fmt.Sprintf(`SELECT "id", "data" FROM %s`, quoteIdent(coll.Table))
	var args []interface{}
	if column != "" {
		query += fmt.Sprintf(` WHERE %s = $1`, quoteIdent(column))
		args = append(args, value)
	}
	query += r.orderClause()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll.Table, err)
	}
	defer rows.Close()

	records := make([]models.Record, 0)
	for rows.Next() {
		var id string
		var data interface{}
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", coll.Table, err)
		}
		records = append(records, decodeDataBag(coll.Name, id, data))
	}
	return records, rows.Err()
}

func (r *CollectionRepository) insertStructured(ctx context.Context, coll *Collection, records []models.Record, ignoreExisting bool) ([]models.Record, error) {
	if len(records) == 0 {
		return []models.Record{}, nil
	}

	placeholders := make([]string, len(coll.Columns))
	var updates []string
	for i, col := range coll.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "id" {
			updates = append(updates, fmt.Sprintf(`%s = excluded.%s`, quoteIdent(col), quoteIdent(col)))
		}
	}

	conflict := `ON CONFLICT ("id") DO NOTHING`
	if !ignoreExisting && len(updates) > 0 {
		conflict = `ON CONFLICT ("id") DO UPDATE SET ` + strings.Join(updates, ", ")
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) %s`,
		quoteIdent(coll.Table), quoteList(coll.Columns), strings.Join(placeholders, ", "), conflict)

	unknown := map[string]bool{}
	inserted := make([]models.Record, 0, len(records))
	for _, rec := range records {
		args := make([]interface{}, len(coll.Columns))
		for i, col := range coll.Columns {
			v, err := encodeColumn(coll.Fields, col, rec[col])
			if err != nil {
				return nil, models.Validationf("item %s: %v", rec.ID(), err)
			}
			args[i] = v
		}
		for field := range rec {
			if !coll.HasColumn(field) {
				unknown[field] = true
			}
		}

		result, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("write %s item %s: %w", coll.Table, rec.ID(), err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			inserted = append(inserted, rec)
		}
	}

	if len(unknown) > 0 {
		fields := make([]string, 0, len(unknown))
		for f := range unknown {
			fields = append(fields, f)
		}
		observability.WithContext(ctx).WithField("collection", coll.Name).
			Debugf("Dropped fields without a column: %s", strings.Join(fields, ","))
	}

	return inserted, nil
}

func (r *CollectionRepository) insertDataBag(ctx context.Context, coll *Collection, records []models.Record, ignoreExisting bool) ([]models.Record, error) {
	conflict := `ON CONFLICT ("id") DO UPDATE SET "data" = excluded."data"`
	if ignoreExisting {
		conflict = `ON CONFLICT ("id") DO NOTHING`
	}
	query := fmt.Sprintf(`INSERT INTO %s ("id", "data") VALUES ($1, $2) %s`, quoteIdent(coll.Table), conflict)

	inserted := make([]models.Record, 0, len(records))
	for _, rec := range records {
		data, err := encodeDataBag(rec)
		if err != nil {
			return nil, models.Validationf("item %s: %v", rec.ID(), err)
		}
		result, err := r.db.ExecContext(ctx, query, rec.ID(), data)
		if err != nil {
			return nil, fmt.Errorf("write %s item %s: %w", coll.Table, rec.ID(), err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			inserted = append(inserted, rec)
		}
	}
	return inserted, nil
}

func (r *CollectionRepository) loadSettings(ctx context.Context, coll *Collection) ([]models.Record, error) {
	raw, ok, err := r.settings.Get(ctx, coll.SettingsKey())
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.Record{}, nil
	}

	records, err := models.DecodeRecords(raw)
	if err != nil {
		observability.WithContext(ctx).WithField("collection", coll.Name).
			Warnf("Settings collection is not an array of objects: %v", err)
		return []models.Record{}, nil
	}
	return records, nil
}

func (r *CollectionRepository) saveSettings(ctx context.Context, coll *Collection, records []models.Record) error {
	if records == nil {
		records = []models.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return models.Validationf("encode %s: %v", coll.Name, err)
	}
	return r.settings.Put(ctx, coll.SettingsKey(), data)
}

func (r *CollectionRepository) appendSettings(ctx context.Context, coll *Collection, records []models.Record) ([]models.Record, error) {
	existing, err := r.loadSettings(ctx, coll)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(existing))
	for _, rec := range existing {
		seen[rec.ID()] = true
	}

	inserted := make([]models.Record, 0, len(records))
	for _, rec := range records {
		if seen[rec.ID()] {
			continue
		}
		seen[rec.ID()] = true
		existing = append(existing, rec)
		inserted = append(inserted, rec)
	}

	if len(inserted) == 0 {
		return inserted, nil
	}
	return inserted, r.saveSettings(ctx, coll, existing)
}

func requireIDs(records []models.Record) error {
	for _, rec := range records {
		if rec.ID() == "" {
			return models.ErrMissingItemID
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
