package mapping

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultMaxTextLength is the truncation cap when none is configured.
const DefaultMaxTextLength = 8000

// Record is one destination row with columns in Entity.Columns order.
type Record struct {
	Entity  string
	Columns []string
	Values  []any
}

// ID returns the record's destination id.
func (r *Record) ID() string {
	s, _ := r.Value("id").(string)
	return s
}

// Value returns the value of a column, or nil when the column is absent.
func (r *Record) Value(col string) any {
	for i, c := range r.Columns {
		if c == col {
			return r.Values[i]
		}
	}
	return nil
}

// Mapper converts source rows into destination records.
type Mapper struct {
	MaxTextLength int
	Now           func() time.Time
	NewID         func() string
}

// NewMapper returns a mapper with the given text cap, UTC clock and UUID v4 ids.
func NewMapper(maxTextLength int) *Mapper {
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}
	return &Mapper{
		MaxTextLength: maxTextLength,
		Now:           func() time.Time { return time.Now().UTC() },
		NewID:         uuid.NewString,
	}
}

// Map builds the destination record for row. The second return value counts
// the fields that were truncated. Truncation is lossy: text beyond
// MaxTextLength characters is dropped.
func (m *Mapper) Map(e Entity, row map[string]any) (*Record, int, error) {
	id, err := m.identity(e, row["id"])
	if err != nil {
		return nil, 0, err
	}

	rec := &Record{
		Entity:  e.Name,
		Columns: e.Columns(),
		Values:  make([]any, 0, len(e.Fields)+1),
	}
	rec.Values = append(rec.Values, id)

	now := m.Now()
	truncated := 0
	for _, f := range e.Fields {
		v, err := convert(f.Kind, row[f.Name], now)
		if err != nil {
			return nil, 0, fmt.Errorf("column %s: %w", f.Name, err)
		}
		if s, ok := v.(string); ok && f.Truncate {
			if cut, did := Truncate(s, m.MaxTextLength); did {
				v = cut
				truncated++
			}
		}
		rec.Values = append(rec.Values, v)
	}
	return rec, truncated, nil
}

func (m *Mapper) identity(e Entity, raw any) (string, error) {
	if e.Identity == RegenerateID {
		return m.NewID(), nil
	}
	if raw == nil {
		return m.NewID(), nil
	}
	id, err := toText(raw)
	if err != nil {
		return "", fmt.Errorf("column id: %w", err)
	}
	if id == "" {
		return m.NewID(), nil
	}
	return id, nil
}

// Truncate caps s at max characters (runes, not bytes). It reports whether
// anything was cut.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i], true
		}
		n++
	}
	return s, false
}

func convert(kind FieldKind, v any, now time.Time) (any, error) {
	switch kind {
	case Text:
		if v == nil {
			return "", nil
		}
		return toText(v)
	case NullableText:
		if v == nil {
			return nil, nil
		}
		return toText(v)
	case Counter:
		if v == nil {
			return int64(0), nil
		}
		return toCounter(v)
	case Timestamp:
		if v == nil || isZeroDate(v) {
			return now, nil
		}
		return toTime(v)
	case NullableTimestamp:
		if v == nil || isZeroDate(v) {
			return nil, nil
		}
		return toTime(v)
	}
	return nil, fmt.Errorf("unsupported field kind %s", kind)
}

func toText(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int:
		return strconv.Itoa(x), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", fmt.Errorf("cannot convert %T to text", v)
}

func toCounter(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d out of range", x)
		}
		return int64(x), nil
	case float64:
		return floatCounter(x)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return parseCounter(string(x))
	case string:
		return parseCounter(x)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func parseCounter(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return n, nil
	}
	// DECIMAL columns arrive as text.
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil {
		return 0, fmt.Errorf("parsing integer %q: %w", s, err)
	}
	return floatCounter(f)
}

func floatCounter(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("integer %v out of range", f)
	}
	return int64(f), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", v)
}

// isZeroDate matches MySQL's 0000-00-00 placeholder in text or parsed form.
func isZeroDate(v any) bool {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	case time.Time:
		return x.IsZero()
	default:
		return false
	}
	return strings.HasPrefix(s, "0000-00-00")
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q", s)
}
