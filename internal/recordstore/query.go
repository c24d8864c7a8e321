package recordstore

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var operators = map[string]string{
	"eq":  "=",
	"neq": "<>",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

type filter struct {
	column string
	op     string
	values []any
}

type orderTerm struct {
	column string
	desc   bool
}

type query struct {
	filters []filter
	order   []orderTerm
	limit   int
	offset  int
}

// parseQuery reads filters, order, limit and offset from values. Column
// names are checked against res so they can be spliced into SQL.
func parseQuery(res *resource, values url.Values) (query, error) {
	var q query
	for key, vals := range values {
		for _, raw := range vals {
			switch key {
			case "select":
				// Column projection is not supported; every column is returned.
			case "order":
				terms, err := parseOrder(res, raw)
				if err != nil {
					return query{}, err
				}
				q.order = append(q.order, terms...)
			case "limit", "offset":
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					return query{}, badRequest("%s must be a non-negative integer", key)
				}
				if key == "limit" {
					q.limit = n
				} else {
					q.offset = n
				}
			default:
				f, err := parseFilter(res, key, raw)
				if err != nil {
					return query{}, err
				}
				q.filters = append(q.filters, f)
			}
		}
	}
	return q, nil
}

func parseFilter(res *resource, name, raw string) (filter, error) {
	col, ok := res.column(name)
	if !ok {
		return filter{}, columnMissing(res, name)
	}
	op, operand, ok := strings.Cut(raw, ".")
	if !ok {
		return filter{}, badRequest("filter %s=%s: expected operator.value", name, raw)
	}

	switch op {
	case "is":
		switch strings.ToLower(operand) {
		case "null":
			return filter{column: name, op: "IS NULL"}, nil
		case "true", "false":
			v, _ := parseValue(column{name: name, kind: kindBool}, operand)
			return filter{column: name, op: "IS", values: []any{v}}, nil
		}
		return filter{}, badRequest("filter %s: is accepts null, true or false", name)

	case "in":
		if !strings.HasPrefix(operand, "(") || !strings.HasSuffix(operand, ")") {
			return filter{}, badRequest("filter %s: in expects (a,b,...)", name)
		}
		list := strings.TrimSuffix(strings.TrimPrefix(operand, "("), ")")
		var values []any
		if strings.TrimSpace(list) != "" {
			for _, item := range strings.Split(list, ",") {
				item = strings.Trim(strings.TrimSpace(item), `"`)
				v, err := parseValue(col, item)
				if err != nil {
					return filter{}, badRequest("%s", err.Error())
				}
				values = append(values, v)
			}
		}
		return filter{column: name, op: "IN", values: values}, nil
	}

	sqlOp, ok := operators[op]
	if !ok {
		return filter{}, badRequest("filter %s: unknown operator %q", name, op)
	}
	v, err := parseValue(col, operand)
	if err != nil {
		return filter{}, badRequest("%s", err.Error())
	}
	return filter{column: name, op: sqlOp, values: []any{v}}, nil
}

func parseOrder(res *resource, raw string) ([]orderTerm, error) {
	var terms []orderTerm
	for _, part := range strings.Split(raw, ",") {
		name, dir, _ := strings.Cut(strings.TrimSpace(part), ".")
		if _, ok := res.column(name); !ok {
			return nil, columnMissing(res, name)
		}
		term := orderTerm{column: name}
		switch dir {
		case "", "asc":
		case "desc":
			term.desc = true
		default:
			return nil, badRequest("order %s: direction must be asc or desc", part)
		}
		terms = append(terms, term)
	}
	return terms, nil
}

// where renders the filters as a SQL condition with positional args.
func (q query) where() (string, []any) {
	if len(q.filters) == 0 {
		return "", nil
	}
	var (
		parts []string
		args  []any
	)
	for _, f := range q.filters {
		switch f.op {
		case "IS NULL":
			parts = append(parts, f.column+" IS NULL")
		case "IN":
			if len(f.values) == 0 {
				parts = append(parts, "0")
				continue
			}
			marks := strings.TrimSuffix(strings.Repeat("?,", len(f.values)), ",")
			parts = append(parts, f.column+" IN ("+marks+")")
			args = append(args, f.values...)
		default:
			parts = append(parts, f.column+" "+f.op+" ?")
			args = append(args, f.values...)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func (q query) tail(res *resource) string {
	var b strings.Builder
	if len(q.order) > 0 {
		terms := make([]string, len(q.order))
		for i, t := range q.order {
			terms[i] = t.column
			if t.desc {
				terms[i] += " DESC"
			}
		}
		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	} else if res.order != "" {
		b.WriteString(" ORDER BY " + res.order)
	}
	if q.limit > 0 || q.offset > 0 {
		limit := q.limit
		if limit == 0 {
			limit = -1
		}
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
		if q.offset > 0 {
			b.WriteString(" OFFSET " + strconv.Itoa(q.offset))
		}
	}
	return b.String()
}

func columnMissing(res *resource, name string) error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    "42703",
		Message: "column " + res.name + "." + name + " does not exist",
	}
}
