package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"

	"github.com/stwalsh4118/featuresync/internal/logger"
	"github.com/stwalsh4118/featuresync/internal/models"
)

// DBF field limits.
const (
	dbfNameLength    = 10
	dbfMaxTextLength = 254
	dbfNumberLength  = 20
	dbfFloatLength   = 24
	dbfFloatDecimals = 8
)

// wgs84PRJ is the ESRI projection string for EPSG:4326.
const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// ShapefileWriter writes a POINT shapefile with its .shx, .dbf and, for
// WGS84 tables, .prj companions.
type ShapefileWriter struct {
	path string
	srid int
	log  *logger.Logger
}

// NewShapefileWriter creates a ShapefileWriter. A path without a .shp
// extension gets one. srid is assumed when the table carries none.
func NewShapefileWriter(path string, srid int, log *logger.Logger) *ShapefileWriter {
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		path += ".shp"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ShapefileWriter{path: path, srid: srid, log: log}
}

func (w *ShapefileWriter) Name() string {
	return KindShapefile + ":" + w.path
}

// shpField pairs a DBF field with the table property it holds.
type shpField struct {
	property string
	kind     models.Kind
	field    shp.Field
}

// Write replaces the shapefile set at path.
func (w *ShapefileWriter) Write(ctx context.Context, t *models.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ensureDir(w.path); err != nil {
		return err
	}

	if err := w.writeShapes(t); err != nil {
		return err
	}

	base := strings.TrimSuffix(w.path, filepath.Ext(w.path))

	// go-shp v0.1.1 creates the attribute table as "<base>dbf".
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return fmt.Errorf("failed to move attribute table into place: %w", err)
	}

	prjPath := base + ".prj"
	srid := t.EffectiveSRID(w.srid)
	if srid == models.DefaultSRID {
		if err := os.WriteFile(prjPath, []byte(wgs84PRJ), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", prjPath, err)
		}
		return nil
	}

	if err := os.Remove(prjPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale %s: %w", prjPath, err)
	}
	w.log.Warn("No projection file written for non-WGS84 shapefile", map[string]interface{}{
		"path": w.path,
		"srid": srid,
	})
	return nil
}

// writeShapes writes the geometry and attribute records. The go-shp writer
// only finalizes its headers on Close.
func (w *ShapefileWriter) writeShapes(t *models.Table) error {
	fields := shapefileFields(t)
	dbfFields := make([]shp.Field, 0, len(fields))
	for _, f := range fields {
		dbfFields = append(dbfFields, f.field)
	}

	out, err := shp.Create(w.path, shp.POINT)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", w.path, err)
	}
	defer out.Close()

	if err := out.SetFields(dbfFields); err != nil {
		return fmt.Errorf("failed to set shapefile fields: %w", err)
	}

	for _, row := range t.Rows {
		idx := int(out.Write(&shp.Point{X: row.Geometry.X(), Y: row.Geometry.Y()}))
		for fi, f := range fields {
			value, ok := dbfValue(row.Properties[f.property], f.kind)
			if !ok {
				continue
			}
			if err := out.WriteAttribute(idx, fi, value); err != nil {
				return fmt.Errorf("failed to write attribute %s: %w", f.property, err)
			}
		}
	}
	return nil
}

// shapefileFields maps the table columns onto DBF fields: names truncated
// to ten characters and de-duplicated, integers as N, floats as F and
// everything else as C sized to the longest value. Floats too wide for an
// F field are stored as text.
func shapefileFields(t *models.Table) []shpField {
	names := models.UniqueColumnNames(t.Columns, nil, dbfNameLength)

	fields := make([]shpField, 0, len(t.Columns))
	for i, property := range t.Columns {
		kind := t.ColumnKind(property)

		var field shp.Field
		switch kind {
		case models.KindInteger:
			field = shp.NumberField(names[i], dbfNumberLength)
		case models.KindFloat:
			if n, ok := floatLength(t, property); ok {
				field = shp.FloatField(names[i], uint8(n), dbfFloatDecimals)
				break
			}
			kind = models.KindText
			field = shp.StringField(names[i], uint8(textLength(t, property)))
		case models.KindBool:
			field = shp.StringField(names[i], 1)
		default:
			field = shp.StringField(names[i], uint8(textLength(t, property)))
		}
		fields = append(fields, shpField{property: property, kind: kind, field: field})
	}
	return fields
}

// floatLength sizes an F field to the widest formatted value. It reports
// false when a value does not fit in a DBF field.
func floatLength(t *models.Table, property string) (int, bool) {
	n := dbfFloatLength
	for _, row := range t.Rows {
		v := row.Properties[property]
		if v == nil {
			continue
		}
		f, err := models.ToFloat64(v)
		if err != nil {
			continue
		}
		if l := len(strconv.FormatFloat(f, 'f', dbfFloatDecimals, 64)); l > n {
			n = l
		}
	}
	return n, n <= dbfMaxTextLength
}

func textLength(t *models.Table, property string) int {
	n := 1
	for _, row := range t.Rows {
		if l := len(models.Truncate(models.FormatValue(row.Properties[property]), dbfMaxTextLength)); l > n {
			n = l
		}
	}
	if n > dbfMaxTextLength {
		n = dbfMaxTextLength
	}
	return n
}

// dbfValue converts a property to the value type go-shp accepts for kind.
// Nulls and unconvertible values are left blank.
func dbfValue(v interface{}, kind models.Kind) (interface{}, bool) {
	if v == nil {
		return nil, false
	}

	switch kind {
	case models.KindInteger:
		i, err := models.ToInt64(v)
		if err != nil {
			return nil, false
		}
		return int(i), true
	case models.KindFloat:
		f, err := models.ToFloat64(v)
		if err != nil {
			return nil, false
		}
		return f, true
	case models.KindBool:
		if b, ok := v.(bool); ok && b {
			return "T", true
		}
		return "F", true
	default:
		return models.Truncate(models.FormatValue(v), dbfMaxTextLength), true
	}
}
