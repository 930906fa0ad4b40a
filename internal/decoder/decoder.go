// Package decoder reconstructs nested JSON from the flat row stream a
// planner.Plan produces (§4.E). The SQL emits one row per leaf-level tuple;
// rows sharing the same ancestor identifiers belong to the same nested
// object. The decoder watches the per-level "__identifiers" column for
// changes, closing and reopening JSON containers as it walks the stream.
//
// Grounded on original_source/server_side_json_builder/mod.rs::convert, whose
// build_parent/build_child pair hardcodes exactly two levels and a last_pk
// int comparison. This generalizes that to the (single-chain, per
// DESIGN.md) arbitrary-depth plan produced by internal/planner, and tracks
// "does this container need a leading comma" with an explicit flag instead
// of the original's trim-trailing-bytes trick, which only works when every
// written token has a known fixed width.
package decoder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relgql/relgql/internal/planner"
	"github.com/relgql/relgql/internal/sqltype"
)

// RowSource is the slice of *sql.Rows that Decode needs. Satisfied directly
// by *sql.Rows.
type RowSource interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Decode consumes rows against plan's levels and returns the reconstructed
// JSON document: `{"<root field>": [...]}` for a list root, or
// `{"<root field>": {...} | null}` for a singular one.
func Decode(rows RowSource, plan *planner.Plan) (string, error) {
	levels := plan.Levels
	if len(levels) == 0 {
		return "", decodeErrorf("plan has no levels")
	}

	last := levels[len(levels)-1]
	width := last.ColumnOffset + len(last.GraphQLFields)
	dest := make([]any, width)
	ptrs := make([]any, width)
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	var buf strings.Builder
	w := &writer{buf: &buf}

	w.raw("{")
	w.key(levels[0].ParentKeyName)
	if levels[0].IsMany {
		w.raw("[")
	}

	lastIdentifiers := make([]string, len(levels))
	opened := false
	depth := 0 // levels[0:depth] currently have an open object on the buffer

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", decodeErrorf("scan: %v", err)
		}

		ids := make([]string, len(levels))
		for i, lvl := range levels {
			idCol := lvl.ColumnOffset - 1
			if idCol < 0 || idCol >= len(dest) {
				return "", decodeErrorf("level %d: invalid identifiers column offset", i)
			}
			ids[i] = identifierKey(dest[idCol])
		}

		if !opened {
			depth = openFrom(w, levels, dest, ids, 0)
			opened = true
		} else {
			diffAt := len(levels)
			for i := range levels {
				if ids[i] != lastIdentifiers[i] {
					diffAt = i
					break
				}
			}
			if diffAt == len(levels) {
				// Identical identifiers at every level: a duplicate row from
				// the join (e.g. a nested level's FK matched more than one
				// parent row combination with no scalar difference). Skip it.
				continue
			}
			closeFrom(w, levels, diffAt, depth)
			w.raw(",")
			depth = openFrom(w, levels, dest, ids, diffAt)
		}
		lastIdentifiers = ids
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("decoder: %w", err)
	}

	if !opened {
		if levels[0].IsMany {
			w.raw("]")
		} else {
			w.raw("null")
		}
		w.raw("}")
		return buf.String(), nil
	}

	closeFrom(w, levels, 0, depth)
	if levels[0].IsMany {
		w.raw("]")
	}
	w.raw("}")
	return buf.String(), nil
}

// openFrom writes fresh containers for levels[i:], nesting each one under
// the previous via its ParentKeyName, populated from dest/ids. A level whose
// identifiers are NULL (an unmatched LEFT JOIN — no row at that depth) stops
// the descent: it renders as [] or null instead of an object, and nothing
// deeper is opened. Returns the depth actually reached, i.e. the count of
// levels from 0 that now have an open object on the buffer.
func openFrom(w *writer, levels []planner.TableQueryInfo, dest []any, ids []string, i int) int {
	for lvl := i; lvl < len(levels); lvl++ {
		if lvl > i {
			w.key(levels[lvl].ParentKeyName)
		}
		if ids[lvl] == nullIdentifierKey {
			if levels[lvl].IsMany {
				w.raw("[]")
			} else {
				w.raw("null")
			}
			return lvl
		}
		if lvl > i && levels[lvl].IsMany {
			w.raw("[")
		}
		w.beginObject()
		lvlInfo := levels[lvl]
		for f := range lvlInfo.GraphQLFields {
			w.field(lvlInfo.GraphQLFields[f], formatValue(lvlInfo.FieldCodes[f], dest[lvlInfo.ColumnOffset+f]))
		}
	}
	return len(levels)
}

// closeFrom closes every currently open level from depth-1 back up to and
// including i, emitting the matching object/array close tokens. Levels at or
// beyond depth were never opened (a NULL cut the descent short, per
// openFrom) and have nothing to close.
func closeFrom(w *writer, levels []planner.TableQueryInfo, i, depth int) {
	for lvl := depth - 1; lvl >= i; lvl-- {
		w.endObject()
		if lvl > i && levels[lvl].IsMany {
			w.raw("]")
		}
	}
}

// nullIdentifierKey is the identifierKey sentinel for a NULL __identifiers
// column. It can never collide with a real value, since those are always
// valid JSON array text starting with '['.
const nullIdentifierKey = "\x00null"

// identifierKey turns a scanned __identifiers value into a comparable key.
// Both dialects emit it as JSON text (to_json/json_array), which a driver
// typically surfaces as []byte or string. An unmatched LEFT JOIN surfaces
// either as a nil interface or as an array of nulls ("[null]"), since the
// array is built from the joined row's NULL key columns; both map to
// nullIdentifierKey.
func identifierKey(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return nullIdentifierKey
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		s = fmt.Sprintf("%v", t)
	}
	for _, part := range strings.Split(strings.Trim(strings.TrimSpace(s), "[]"), ",") {
		if strings.TrimSpace(part) != "null" {
			return s
		}
	}
	return nullIdentifierKey
}

// writer tracks, per open container, whether the next token needs a leading
// comma. This reproduces the "trailing comma, trim before close" behavior of
// the original hand-rolled encoder without relying on fixed-width trims.
type writer struct {
	buf       *strings.Builder
	needComma []bool
}

func (w *writer) raw(s string) { w.buf.WriteString(s) }

func (w *writer) beginObject() {
	if len(w.needComma) > 0 && w.needComma[len(w.needComma)-1] {
		w.buf.WriteString(",")
	}
	w.buf.WriteString("{")
	w.needComma = append(w.needComma, false)
}

func (w *writer) endObject() {
	w.buf.WriteString("}")
	w.needComma = w.needComma[:len(w.needComma)-1]
}

// key writes an object key: the root wrapper's key, or a nested level's key
// after its parent's scalar fields. It writes a leading comma when the
// enclosing object already holds a field, then clears that flag so the value
// that follows (beginObject) does not add a second comma.
func (w *writer) key(name string) {
	if n := len(w.needComma); n > 0 && w.needComma[n-1] {
		w.buf.WriteString(",")
		w.needComma[n-1] = false
	}
	w.buf.WriteString(`"`)
	w.buf.WriteString(escapeJSONString(name))
	w.buf.WriteString(`":`)
}

// field writes one scalar "name":value pair inside the currently open
// object, comma-separating from any previously written field.
func (w *writer) field(name, value string) {
	if w.needComma[len(w.needComma)-1] {
		w.buf.WriteString(",")
	}
	w.buf.WriteString(`"`)
	w.buf.WriteString(escapeJSONString(name))
	w.buf.WriteString(`":`)
	w.buf.WriteString(value)
	w.markValueWritten()
}

func (w *writer) markValueWritten() {
	w.needComma[len(w.needComma)-1] = true
}

// formatValue renders one scanned column as JSON text per its type code
// (§4.E). Nullable codes (sqltype.NullBase offset) format identically to
// their base once non-NULL; a NULL value always renders as the literal null.
func formatValue(code sqltype.Code, v any) string {
	if v == nil {
		return "null"
	}
	switch code.Base() {
	case sqltype.Int:
		return formatInt(v)
	case sqltype.Float:
		return formatFloat(v)
	case sqltype.Boolean:
		return formatBool(v)
	case sqltype.Timestamp, sqltype.TimestampTZ:
		return formatTimestamp(v)
	case sqltype.JSON:
		return formatJSONPassthrough(v)
	default: // sqltype.Str and anything unrecognized
		return formatString(v)
	}
}

func formatInt(v any) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatFloat(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case []byte:
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return string(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatBool(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []byte:
		return boolText(string(t))
	case string:
		return boolText(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func boolText(s string) string {
	switch s {
	case "t", "true", "1":
		return "true"
	default:
		return "false"
	}
}

func formatTimestamp(v any) string {
	switch t := v.(type) {
	case time.Time:
		return `"` + t.UTC().Format(time.RFC3339Nano) + `"`
	case []byte:
		return `"` + string(t) + `"`
	case string:
		return `"` + t + `"`
	default:
		return `"` + fmt.Sprintf("%v", t) + `"`
	}
}

// formatJSONPassthrough writes a JSON column's value verbatim: the database
// already produced valid JSON text, so there is nothing to escape.
func formatJSONPassthrough(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatString(v any) string {
	var s string
	switch t := v.(type) {
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		s = fmt.Sprintf("%v", t)
	}
	return `"` + escapeJSONString(s) + `"`
}

func escapeJSONString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
