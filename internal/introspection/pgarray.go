package introspection

import (
	"fmt"
	"strconv"
	"strings"
)

// pgInt2Array scans a Postgres smallint[] (conkey/confkey) in its default
// text representation ("{1,2,3}") into a []int16. lib/pq exposes array
// helpers for int64 but not int16, and conkey/confkey are always small,
// non-null attnum lists — a hand-rolled scanner is simpler than round-tripping
// through pq.Int64Array.
type pgInt2Array []int16

func (a *pgInt2Array) Scan(src any) error {
	if src == nil {
		*a = nil
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("pgInt2Array: unsupported source type %T", src)
	}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		*a = pgInt2Array{}
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make(pgInt2Array, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return fmt.Errorf("pgInt2Array: parse element %q: %w", p, err)
		}
		out[i] = int16(n)
	}
	*a = out
	return nil
}
