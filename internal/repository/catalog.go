package repository

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
)

// Kind tags how a collection is stored
type Kind int

const (
	// KindSettings collections live as one JSON array in the settings table
	KindSettings Kind = iota
	// KindDataBag collections live in a table with only "id" and a JSON "data" column
	KindDataBag
	// KindStructured collections live in a table with typed columns
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindDataBag:
		return "databag"
	case KindStructured:
		return "structured"
	default:
		return "settings"
	}
}

// Collection is a resolved collection. Table and Columns are empty for
// settings collections.
type Collection struct {
	Name    string
	Kind    Kind
	Table   string
	Columns []string
	Fields  FieldSet
}

// HasColumn reports whether the backing table has the column
func (c *Collection) HasColumn(column string) bool {
	return slices.Contains(c.Columns, column)
}

// SettingsKey is the settings row holding a settings collection
func (c *Collection) SettingsKey() string {
	return c.Name
}

// collectionNamePattern excludes dots, so collection keys never collide with
// the internal "sync." settings keys
var collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidCollectionName reports whether name may address a collection
func ValidCollectionName(name string) bool {
	return collectionNamePattern.MatchString(name) && !internalTables[name]
}

// Catalog maps collection names to their storage, resolved once at startup
type Catalog struct {
	tables map[string]*Collection
}

// LoadCatalog introspects the store. A table with exactly id and data is a
// data bag, any other table is structured, and unknown names fall back to
// settings collections.
func LoadCatalog(ctx context.Context, db DBTX, dialect Dialect) (*Catalog, error) {
	tableQuery, columnQuery := introspectionQueries(dialect)

	tables, err := queryStrings(ctx, db, tableQuery)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	catalog := &Catalog{tables: make(map[string]*Collection)}
	for _, table := range tables {
		if internalTables[table] || !collectionNamePattern.MatchString(table) {
			continue
		}

		columns, err := queryStrings(ctx, db, columnQuery, table)
		if err != nil {
			return nil, fmt.Errorf("list columns of %s: %w", table, err)
		}

		coll := &Collection{Name: table, Table: table, Columns: columns}
		if isDataBag(columns) {
			coll.Kind = KindDataBag
		} else {
			coll.Kind = KindStructured
			coll.Fields = collectionFields[table]
		}
		catalog.tables[table] = coll

		observability.WithFields(map[string]interface{}{
			"collection": table,
			"kind":       coll.Kind.String(),
			"columns":    len(columns),
		}).Debug("Resolved collection")
	}

	return catalog, nil
}

func introspectionQueries(dialect Dialect) (tables, columns string) {
	if dialect == DialectPostgres {
		return `SELECT table_name FROM information_schema.tables
				WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
				ORDER BY table_name`,
			`SELECT column_name FROM information_schema.columns
				WHERE table_schema = current_schema() AND table_name = $1
				ORDER BY ordinal_position`
	}
	return `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
			ORDER BY name`,
		`SELECT name FROM pragma_table_info($1) ORDER BY cid`
}

func isDataBag(columns []string) bool {
	if len(columns) != 2 {
		return false
	}
	set := map[string]bool{columns[0]: true, columns[1]: true}
	return set["id"] && set["data"]
}

func queryStrings(ctx context.Context, db DBTX, query string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Resolve returns the collection for name. Valid names without a table are
// settings collections.
func (c *Catalog) Resolve(name string) (*Collection, error) {
	if coll, ok := c.tables[name]; ok {
		return coll, nil
	}
	if !ValidCollectionName(name) {
		return nil, models.ErrInvalidCollection
	}
	return &Collection{Name: name, Kind: KindSettings}, nil
}

// List returns every table-backed collection plus the built-in settings
// collections, sorted by name
func (c *Catalog) List() []*Collection {
	out := make([]*Collection, 0, len(c.tables)+len(settingsCollections))
	for _, coll := range c.tables {
		out = append(out, coll)
	}
	for _, name := range settingsCollections {
		if _, ok := c.tables[name]; !ok {
			out = append(out, &Collection{Name: name, Kind: KindSettings})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
