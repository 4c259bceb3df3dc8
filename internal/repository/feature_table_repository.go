package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/stwalsh4118/featuresync/internal/database"
	"github.com/stwalsh4118/featuresync/internal/models"
)

// PostgreSQL caps a statement at 65535 bind parameters.
const maxBindParams = 65535

// maxRowsPerInsert bounds a single multi-row INSERT.
const maxRowsPerInsert = 1000

// Column types inferred from property values.
const (
	ColumnBigint = "bigint"
	ColumnDouble = "double precision"
	ColumnBool   = "boolean"
	ColumnText   = "text"
)

// Column maps one table property onto a database column.
type Column struct {
	Property string
	Name     string
	Type     string
}

// FeatureTableRepository defines persistence of materialized tables.
type FeatureTableRepository interface {
	// Replace drops and recreates table, then inserts every row, all in one
	// transaction. Returns the number of rows written.
	Replace(ctx context.Context, table string, t *models.Table, srid int) (int64, error)
}

// featureTableRepository is the concrete implementation of FeatureTableRepository.
type featureTableRepository struct {
	db *database.Database
}

// NewFeatureTableRepository creates a new instance of FeatureTableRepository.
func NewFeatureTableRepository(db *database.Database) FeatureTableRepository {
	return &featureTableRepository{
		db: db,
	}
}

// Replace rewrites table with the contents of t. Geometries are stored as
// geometry(Point, srid) built from WKB.
func (r *featureTableRepository) Replace(ctx context.Context, table string, t *models.Table, srid int) (int64, error) {
	ident, err := ParseTableName(table)
	if err != nil {
		return 0, err
	}
	columns := InferColumns(t)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident.Sanitize()); err != nil {
		return 0, fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx, CreateTableSQL(ident, columns, srid)); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	var written int64
	chunk := rowsPerInsert(len(columns))
	for start := 0; start < len(t.Rows); start += chunk {
		end := min(start+chunk, len(t.Rows))

		args, err := insertArgs(columns, t.Rows[start:end])
		if err != nil {
			return written, err
		}
		tag, err := tx.Exec(ctx, InsertSQL(ident, columns, end-start, srid), args...)
		if err != nil {
			return written, fmt.Errorf("failed to insert rows %d-%d into %s: %w", start, end-1, table, err)
		}
		written += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit table %s: %w", table, err)
	}
	return written, nil
}

// ParseTableName splits an optional schema prefix off name.
func ParseTableName(name string) (pgx.Identifier, error) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return pgx.Identifier(parts), nil
}

// InferColumns derives a column per table property. Integers become bigint,
// any fractional value widens the column to double precision, booleans stay
// boolean and anything else, including mixed or all-null columns, is text.
// A property that collides with the geometry column is suffixed.
func InferColumns(t *models.Table) []Column {
	names := models.UniqueColumnNames(t.Columns, []string{models.GeometryColumn}, 0)

	columns := make([]Column, 0, len(t.Columns))
	for i, property := range t.Columns {
		columns = append(columns, Column{
			Property: property,
			Name:     names[i],
			Type:     sqlType(t.ColumnKind(property)),
		})
	}
	return columns
}

func sqlType(kind models.Kind) string {
	switch kind {
	case models.KindInteger:
		return ColumnBigint
	case models.KindFloat:
		return ColumnDouble
	case models.KindBool:
		return ColumnBool
	default:
		return ColumnText
	}
}

// CreateTableSQL renders the DDL for the replaced table.
func CreateTableSQL(ident pgx.Identifier, columns []Column, srid int) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(ident.Sanitize())
	b.WriteString(" (")
	for _, c := range columns {
		b.WriteString(pgx.Identifier{c.Name}.Sanitize())
		b.WriteString(" ")
		b.WriteString(c.Type)
		b.WriteString(", ")
	}
	fmt.Fprintf(&b, "%s geometry(Point, %d))", pgx.Identifier{models.GeometryColumn}.Sanitize(), srid)
	return b.String()
}

// InsertSQL renders a multi-row INSERT for n rows.
func InsertSQL(ident pgx.Identifier, columns []Column, n, srid int) string {
	names := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		names = append(names, pgx.Identifier{c.Name}.Sanitize())
	}
	names = append(names, pgx.Identifier{models.GeometryColumn}.Sanitize())

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", ident.Sanitize(), strings.Join(names, ", "))

	param := 1
	for row := 0; row < n; row++ {
		if row > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for range columns {
			fmt.Fprintf(&b, "$%d, ", param)
			param++
		}
		fmt.Fprintf(&b, "ST_SetSRID(ST_GeomFromWKB($%d), %d))", param, srid)
		param++
	}
	return b.String()
}

func rowsPerInsert(columns int) int {
	n := maxBindParams / (columns + 1)
	if n > maxRowsPerInsert {
		n = maxRowsPerInsert
	}
	if n < 1 {
		n = 1
	}
	return n
}

func insertArgs(columns []Column, rows []models.Row) ([]interface{}, error) {
	args := make([]interface{}, 0, len(rows)*(len(columns)+1))
	for _, row := range rows {
		for _, c := range columns {
			v, err := ConvertValue(row.Properties[c.Property], c.Type)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			args = append(args, v)
		}
		geom, err := wkb.Marshal(row.Geometry)
		if err != nil {
			return nil, fmt.Errorf("failed to encode geometry: %w", err)
		}
		args = append(args, geom)
	}
	return args, nil
}

// ConvertValue coerces a decoded property into the Go type pgx binds for
// columnType. Nil stays nil.
func ConvertValue(v interface{}, columnType string) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch columnType {
	case ColumnBigint:
		return models.ToInt64(v)
	case ColumnDouble:
		return models.ToFloat64(v)
	case ColumnBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot store %T as %s", v, columnType)
		}
		return b, nil
	default:
		return models.FormatValue(v), nil
	}
}
