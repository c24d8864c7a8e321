// Package recordstore is a small record-oriented HTTP store over SQLite.
// It serves the filter grammar the engine's remote client speaks:
// col=eq.v, col=in.(a,b), col=is.null, order=col.dir and limit=n.
package recordstore

import (
	"fmt"
	"strconv"
	"strings"
)

type kind int

const (
	kindInt kind = iota
	kindText
	kindBool
)

type column struct {
	name     string
	kind     kind
	writable bool
}

// resource describes one exposed table or view.
type resource struct {
	name     string
	columns  []column
	readOnly bool
	// order applies when the request names none.
	order string
}

func (r *resource) column(name string) (column, bool) {
	for _, c := range r.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

func (r *resource) names() []string {
	out := make([]string, len(r.columns))
	for i, c := range r.columns {
		out[i] = c.name
	}
	return out
}

var resources = map[string]*resource{
	"project": {
		name:  "project",
		order: "id",
		columns: []column{
			{"id", kindInt, false},
			{"title", kindText, true},
			{"description", kindText, true},
			{"is_published", kindBool, true},
			{"participant_scoring", kindText, true},
			{"username", kindText, true},
			{"instructions", kindText, true},
			{"initial_clue", kindText, true},
			{"homescreen_display", kindText, true},
		},
	},
	"location": {
		name:  "location",
		order: "location_order, id",
		columns: []column{
			{"id", kindInt, false},
			{"project_id", kindInt, true},
			{"location_name", kindText, true},
			{"location_trigger", kindText, true},
			{"location_position", kindText, true},
			{"location_order", kindInt, true},
			{"username", kindText, true},
			{"location_content", kindText, true},
			{"extra", kindText, true},
			{"clue", kindText, true},
			{"score_points", kindInt, true},
		},
	},
	"tracking": {
		name:  "tracking",
		order: "id",
		columns: []column{
			{"id", kindInt, false},
			{"project_id", kindInt, true},
			{"location_id", kindInt, true},
			{"username", kindText, true},
			{"points", kindInt, true},
			{"participant_username", kindText, true},
		},
	},
	"location_participant_counts": {
		name:     "location_participant_counts",
		readOnly: true,
		order:    "location_id",
		columns: []column{
			{"location_id", kindInt, false},
			{"number_participants", kindInt, false},
		},
	},
	"project_participant_counts": {
		name:     "project_participant_counts",
		readOnly: true,
		order:    "project_id",
		columns: []column{
			{"project_id", kindInt, false},
			{"number_participants", kindInt, false},
		},
	},
}

// parseValue converts a filter literal to a value bound for c.
func parseValue(c column, raw string) (any, error) {
	switch c.kind {
	case kindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s expects an integer, got %q", c.name, raw)
		}
		return n, nil
	case kindBool:
		switch strings.ToLower(raw) {
		case "true", "t", "1":
			return 1, nil
		case "false", "f", "0":
			return 0, nil
		}
		return nil, fmt.Errorf("column %s expects a boolean, got %q", c.name, raw)
	}
	return raw, nil
}

// bindJSON converts a decoded JSON body value to a value bound for c.
func bindJSON(c column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.kind {
	case kindInt:
		switch n := v.(type) {
		case float64:
			if n != float64(int64(n)) {
				return nil, fmt.Errorf("column %s expects an integer", c.name)
			}
			return int64(n), nil
		case string:
			return parseValue(c, n)
		}
	case kindBool:
		switch b := v.(type) {
		case bool:
			if b {
				return 1, nil
			}
			return 0, nil
		case string:
			return parseValue(c, b)
		}
	case kindText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("column %s: unexpected value %v", c.name, v)
}
