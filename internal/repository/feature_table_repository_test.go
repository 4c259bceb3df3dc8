package repository

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/featuresync/internal/config"
	"github.com/stwalsh4118/featuresync/internal/database"
	"github.com/stwalsh4118/featuresync/internal/models"
)

func sampleTable() *models.Table {
	t := models.NewTable()
	t.Append(map[string]interface{}{
		"FID":      json.Number("1"),
		"NAME":     "Shoprite",
		"AREA":     json.Number("10"),
		"OPEN":     true,
		"geometry": "shadowed",
	}, orb.Point{3.38, 6.52}, []string{"FID", "NAME", "AREA", "OPEN", "geometry"})
	t.Append(map[string]interface{}{
		"FID":  json.Number("2"),
		"NAME": nil,
		"AREA": json.Number("12.5"),
		"OPEN": false,
		"TAGS": []interface{}{"a", "b"},
	}, orb.Point{3.40, 6.60}, []string{"FID", "NAME", "AREA", "OPEN", "TAGS"})
	return t
}

func TestInferColumns(t *testing.T) {
	columns := InferColumns(sampleTable())

	assert.Equal(t, []Column{
		{Property: "FID", Name: "FID", Type: ColumnBigint},
		{Property: "NAME", Name: "NAME", Type: ColumnText},
		{Property: "AREA", Name: "AREA", Type: ColumnDouble},
		{Property: "OPEN", Name: "OPEN", Type: ColumnBool},
		{Property: "geometry", Name: "geometry_1", Type: ColumnText},
		{Property: "TAGS", Name: "TAGS", Type: ColumnText},
	}, columns)
}

func TestInferColumns_MixedAndNull(t *testing.T) {
	table := models.NewTable()
	table.Append(map[string]interface{}{"A": json.Number("1"), "B": nil}, orb.Point{}, []string{"A", "B"})
	table.Append(map[string]interface{}{"A": "one", "B": nil}, orb.Point{}, []string{"A", "B"})

	columns := InferColumns(table)

	require.Len(t, columns, 2)
	assert.Equal(t, ColumnText, columns[0].Type)
	assert.Equal(t, ColumnText, columns[1].Type)
}

func TestCreateTableSQL(t *testing.T) {
	sql := CreateTableSQL(pgx.Identifier{"public", "stores"}, []Column{
		{Name: "FID", Type: ColumnBigint},
		{Name: "Store Name", Type: ColumnText},
	}, 4326)

	assert.Equal(t, `CREATE TABLE "public"."stores" ("FID" bigint, "Store Name" text, "geometry" geometry(Point, 4326))`, sql)
}

func TestInsertSQL(t *testing.T) {
	sql := InsertSQL(pgx.Identifier{"stores"}, []Column{{Name: "FID"}, {Name: "NAME"}}, 2, 4326)

	assert.Equal(t,
		`INSERT INTO "stores" ("FID", "NAME", "geometry") VALUES `+
			`($1, $2, ST_SetSRID(ST_GeomFromWKB($3), 4326)), `+
			`($4, $5, ST_SetSRID(ST_GeomFromWKB($6), 4326))`,
		sql)
}

func TestRowsPerInsert(t *testing.T) {
	assert.Equal(t, maxRowsPerInsert, rowsPerInsert(3))
	assert.Equal(t, 65535/201, rowsPerInsert(200))
	assert.Equal(t, 1, rowsPerInsert(70000))
}

func TestParseTableName(t *testing.T) {
	tests := []struct {
		name    string
		want    pgx.Identifier
		wantErr bool
	}{
		{name: "features", want: pgx.Identifier{"features"}},
		{name: "gis.features", want: pgx.Identifier{"gis", "features"}},
		{name: "", wantErr: true},
		{name: "a..b", wantErr: true},
		{name: "a.b.c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTableName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		name       string
		value      interface{}
		columnType string
		want       interface{}
		wantErr    bool
	}{
		{name: "nil", value: nil, columnType: ColumnBigint, want: nil},
		{name: "bigint", value: json.Number("9007199254740993"), columnType: ColumnBigint, want: int64(9007199254740993)},
		{name: "double from int", value: json.Number("10"), columnType: ColumnDouble, want: 10.0},
		{name: "double", value: json.Number("12.5"), columnType: ColumnDouble, want: 12.5},
		{name: "bool", value: true, columnType: ColumnBool, want: true},
		{name: "bool mismatch", value: "yes", columnType: ColumnBool, wantErr: true},
		{name: "text number", value: json.Number("7"), columnType: ColumnText, want: "7"},
		{name: "text nested", value: []interface{}{"a", "b"}, columnType: ColumnText, want: `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertValue(tt.value, tt.columnType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInsertArgs(t *testing.T) {
	table := sampleTable()
	columns := InferColumns(table)

	args, err := insertArgs(columns, table.Rows)

	require.NoError(t, err)
	require.Len(t, args, 2*(len(columns)+1))
	assert.Equal(t, int64(1), args[0])
	assert.Equal(t, "Shoprite", args[1])
	assert.Equal(t, 10.0, args[2])
	assert.Equal(t, true, args[3])
	assert.Equal(t, "shadowed", args[4])
	assert.Nil(t, args[5], "missing property binds NULL")
	assert.IsType(t, []byte{}, args[6])
	assert.Nil(t, args[8], "null property binds NULL")
}

// setupTestRepository connects to the database named by DATABASE_URL.
func setupTestRepository(t *testing.T) (FeatureTableRepository, *database.Database) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.NewPostgresPool(ctx, config.DatabaseConfig{URL: url, PoolMin: 1, PoolMax: 2})
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}
	return NewFeatureTableRepository(db), db
}

func TestReplace_Integration(t *testing.T) {
	repo, db := setupTestRepository(t)
	defer db.Close()

	ctx := context.Background()
	table := "featuresync_replace_test"
	defer db.Pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)

	written, err := repo.Replace(ctx, table, sampleTable(), 4326)
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)

	// A second replace leaves exactly the new contents.
	written, err = repo.Replace(ctx, table, sampleTable(), 4326)
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)

	var count int64
	var srid int
	err = db.Pool.QueryRow(ctx, `SELECT count(*), max(ST_SRID(geometry)) FROM `+table).Scan(&count, &srid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 4326, srid)
}
