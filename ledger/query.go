package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SELECTOR - Rich query predicate
// =============================================================================

// Selector is an equality conjunction over top-level document fields.
// Its wire form is {"selector":{"field":value,...}}. Values are JSON scalars.
type Selector map[string]any

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewQuery renders fields as a rich query string.
func NewQuery(fields map[string]any) (string, error) {
	b, err := json.Marshal(struct {
		Selector map[string]any `json:"selector"`
	}{Selector: fields})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return string(b), nil
}

// ParseSelector parses a rich query string.
func ParseSelector(query string) (Selector, error) {
	var q struct {
		Selector map[string]any `json:"selector"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(query)))
	dec.UseNumber()
	if err := dec.Decode(&q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if q.Selector == nil {
		return nil, fmt.Errorf("%w: missing selector", ErrInvalidQuery)
	}
	for field, v := range q.Selector {
		if !fieldName.MatchString(field) {
			return nil, fmt.Errorf("%w: field %q", ErrInvalidQuery, field)
		}
		switch v.(type) {
		case string, json.Number, bool, nil:
		default:
			return nil, fmt.Errorf("%w: field %q must be a scalar", ErrInvalidQuery, field)
		}
	}
	return Selector(q.Selector), nil
}

// Fields returns the selector's field names in sorted order.
func (s Selector) Fields() []string {
	fields := make([]string, 0, len(s))
	for f := range s {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Match reports whether the JSON document satisfies every field of the selector.
// Documents that are not JSON objects never match.
func (s Selector) Match(doc []byte) bool {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return false
	}
	for name, want := range s {
		got, ok := fields[name]
		if !ok || !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

func scalarEqual(got, want any) bool {
	switch w := want.(type) {
	case json.Number:
		g, ok := got.(json.Number)
		if !ok {
			return false
		}
		gd, err1 := decimal.NewFromString(g.String())
		wd, err2 := decimal.NewFromString(w.String())
		if err1 != nil || err2 != nil {
			return g == w
		}
		return gd.Equal(wd)
	case string:
		g, ok := got.(string)
		return ok && g == w
	case bool:
		g, ok := got.(bool)
		return ok && g == w
	case nil:
		return got == nil
	}
	return false
}
