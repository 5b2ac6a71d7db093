package versioning

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const DefaultSortField = "rank"

// Sort orders projected views by one field. Views missing the field go last
// in either direction; ties keep base order.
type Sort struct {
	Field string
	Desc  bool
}

// ParseSort reads "field" or "-field". An empty string selects rank
// ascending.
func ParseSort(raw string) (Sort, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Sort{Field: DefaultSortField}, nil
	}
	s := Sort{Field: raw}
	if strings.HasPrefix(raw, "-") {
		s = Sort{Field: strings.TrimPrefix(raw, "-"), Desc: true}
	} else if strings.HasPrefix(raw, "+") {
		s.Field = strings.TrimPrefix(raw, "+")
	}
	if s.Field == "" || strings.HasPrefix(s.Field, "_") {
		return Sort{}, invalid("sort field %q", raw)
	}
	return s, nil
}

func (s Sort) String() string {
	field := s.Field
	if field == "" {
		field = DefaultSortField
	}
	if s.Desc {
		return "-" + field
	}
	return field
}

func (s Sort) value(v View) (any, bool) {
	switch s.Field {
	case "changed":
		return v.Changed.Date, true
	case "created":
		return v.Created.Date, true
	}
	value, ok := v.Field(s.Field)
	if ok && value == nil {
		return nil, false
	}
	return value, ok
}

func sortViews(views []View, s Sort) {
	if s.Field == "" {
		s.Field = DefaultSortField
	}
	sort.SliceStable(views, func(i, j int) bool {
		a, okA := s.value(views[i])
		b, okB := s.value(views[j])
		switch {
		case !okA:
			return false
		case !okB:
			return true
		}
		cmp := compareValues(a, b)
		if s.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// typeRank orders values of different kinds: numbers, strings, booleans,
// times, then anything else.
func typeRank(v any) int {
	switch v.(type) {
	case float64, float32, int, int64, int32:
		return 0
	case string:
		return 1
	case bool:
		return 2
	case time.Time:
		return 3
	default:
		return 4
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 1:
		return strings.Compare(a.(string), b.(string))
	case 2:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 3:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
