package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
)

type kind int

const (
	kindText kind = iota
	kindInt
	kindReal
	kindBool
)

type column struct {
	name string
	kind kind
}

// dimTable describes how an entity maps onto its dimension table. Only the
// listed attribute columns are ever written, which keeps the generated SQL
// closed over known identifiers.
type dimTable struct {
	table   string
	key     string
	natural string
	attrs   []column
	byName  map[string]column
}

func newDimTable(table, key, natural string, attrs ...column) *dimTable {
	d := &dimTable{table: table, key: key, natural: natural, attrs: attrs, byName: make(map[string]column, len(attrs))}
	for _, c := range attrs {
		d.byName[c.name] = c
	}
	return d
}

var dimTables = map[model.Entity]*dimTable{
	model.EntityTool: newDimTable("dim_tools", "tool_key", "tool_name",
		column{"tool_category", kindText},
		column{"tool_display_name", kindText},
		column{"tool_description", kindText},
		column{"icon_name", kindText},
		column{"sort_order", kindInt},
		column{"is_active", kindBool},
	),
	model.EntityTime: newDimTable("dim_time", "time_key", "time_id",
		column{"date", kindText},
		column{"hour", kindInt},
		column{"year", kindInt},
		column{"month", kindInt},
		column{"day", kindInt},
		column{"day_of_week", kindInt},
		column{"day_name", kindText},
		column{"month_name", kindText},
		column{"quarter", kindInt},
		column{"is_weekend", kindBool},
		column{"date_label", kindText},
		column{"week_start", kindText},
		column{"month_start", kindText},
	),
	model.EntitySession: newDimTable("dim_sessions", "session_key", "session_id",
		column{"user_agent", kindText},
		column{"browser", kindText},
		column{"operating_system", kindText},
		column{"device_type", kindText},
		column{"language", kindText},
		column{"referrer", kindText},
		column{"session_start", kindText},
	),
	model.EntityEventType: newDimTable("dim_event_types", "event_type_key", "event_type",
		column{"event_category", kindText},
		column{"event_description", kindText},
		column{"is_conversion_event", kindBool},
		column{"event_weight", kindReal},
		column{"display_name", kindText},
		column{"icon_class", kindText},
		column{"color_code", kindText},
	),
}

func lookupDimTable(entity model.Entity) (*dimTable, error) {
	d, ok := dimTables[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	return d, nil
}

// encode converts an attribute value into what the column stores.
func (c column) encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.kind {
	case kindText:
		switch t := v.(type) {
		case string:
			return t, nil
		case time.Time:
			return t.UTC().Format(tsLayout), nil
		default:
			return fmt.Sprint(t), nil
		}
	case kindInt:
		switch t := v.(type) {
		case int:
			return int64(t), nil
		case int32:
			return int64(t), nil
		case int64:
			return t, nil
		case float64:
			return int64(t), nil
		}
	case kindReal:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		}
	case kindBool:
		if b, ok := v.(bool); ok {
			return boolInt(b), nil
		}
	}
	return nil, fmt.Errorf("column %s: unsupported value %T", c.name, v)
}

// scanTarget returns a destination for the column and a function that turns
// the scanned value back into an attribute. ok is false for NULL.
func (c column) scanTarget() (any, func() (any, bool)) {
	switch c.kind {
	case kindInt:
		var v sql.NullInt64
		return &v, func() (any, bool) { return v.Int64, v.Valid }
	case kindReal:
		var v sql.NullFloat64
		return &v, func() (any, bool) { return v.Float64, v.Valid }
	case kindBool:
		var v sql.NullInt64
		return &v, func() (any, bool) { return v.Int64 != 0, v.Valid }
	default:
		var v sql.NullString
		return &v, func() (any, bool) { return v.String, v.Valid }
	}
}

// LookupDimension returns the key and non-NULL attributes stored for
// naturalID.
func (t *Tx) LookupDimension(ctx context.Context, entity model.Entity, naturalID string) (int64, model.Attributes, bool, error) {
	if err := t.check(); err != nil {
		return 0, nil, false, err
	}
	d, err := lookupDimTable(entity)
	if err != nil {
		return 0, nil, false, err
	}

	cols := make([]string, 0, len(d.attrs)+1)
	cols = append(cols, d.key)
	var key int64
	dest := make([]any, 0, len(d.attrs)+1)
	dest = append(dest, &key)
	reads := make([]func() (any, bool), len(d.attrs))
	for i, c := range d.attrs {
		cols = append(cols, c.name)
		target, read := c.scanTarget()
		dest = append(dest, target)
		reads[i] = read
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", strings.Join(cols, ", "), d.table, d.natural)
	start := time.Now()
	err = t.tx.QueryRowContext(ctx, q, naturalID).Scan(dest...)
	observe("lookup_dimension", start)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("lookup %s: %w", d.table, err)
	}

	attrs := make(model.Attributes, len(d.attrs))
	for i, c := range d.attrs {
		if v, ok := reads[i](); ok {
			attrs[c.name] = v
		}
	}
	return key, attrs, true, nil
}

// NextSurrogateKey advances the entity's persisted sequence. The sequence is
// never decremented, so keys are not reused even if rows are deleted.
func (t *Tx) NextSurrogateKey(ctx context.Context, entity model.Entity) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var key int64
	start := time.Now()
	err := t.tx.QueryRowContext(ctx,
		`UPDATE surrogate_sequences SET last_key = last_key + 1 WHERE entity_type = ? RETURNING last_key`,
		string(entity)).Scan(&key)
	observe("next_key", start)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	if err != nil {
		return 0, fmt.Errorf("advance %s sequence: %w", entity, err)
	}
	return key, nil
}

// InsertDimension inserts a new dimension row. Unknown attribute names are
// ignored.
func (t *Tx) InsertDimension(ctx context.Context, entity model.Entity, key int64, naturalID string, attrs model.Attributes) error {
	if err := t.check(); err != nil {
		return err
	}
	d, err := lookupDimTable(entity)
	if err != nil {
		return err
	}

	now := t.timestamp()
	cols := []string{d.key, d.natural, "created_at", "updated_at"}
	args := []any{key, naturalID, now, now}
	for _, c := range d.attrs {
		v, ok := attrs[c.name]
		if !ok {
			continue
		}
		enc, err := c.encode(v)
		if err != nil {
			return fmt.Errorf("insert %s: %w", d.table, err)
		}
		cols = append(cols, c.name)
		args = append(args, enc)
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.table, strings.Join(cols, ", "), placeholders(len(cols)))
	start := time.Now()
	_, err = t.tx.ExecContext(ctx, q, args...)
	observe("insert_dimension", start)
	if err != nil {
		return fmt.Errorf("insert %s: %w", d.table, err)
	}
	return nil
}

// UpdateDimension overwrites the attributes present in attrs.
func (t *Tx) UpdateDimension(ctx context.Context, entity model.Entity, key int64, attrs model.Attributes) error {
	if err := t.check(); err != nil {
		return err
	}
	d, err := lookupDimTable(entity)
	if err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{t.timestamp()}
	for _, c := range d.attrs {
		v, ok := attrs[c.name]
		if !ok {
			continue
		}
		enc, err := c.encode(v)
		if err != nil {
			return fmt.Errorf("update %s: %w", d.table, err)
		}
		sets = append(sets, c.name+" = ?")
		args = append(args, enc)
	}
	args = append(args, key)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", d.table, strings.Join(sets, ", "), d.key)
	start := time.Now()
	res, err := t.tx.ExecContext(ctx, q, args...)
	observe("update_dimension", start)
	if err != nil {
		return fmt.Errorf("update %s: %w", d.table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s key %d: %w", d.table, key, ErrNotFound)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
