// Package qrcode decodes scanned location codes. Two encodings are seen in
// the wild: a JSON object and a query string, both carrying project_id and
// location_id.
package qrcode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/storypath/engine/internal/storypath"
)

type Payload struct {
	ProjectID  int64 `json:"project_id"`
	LocationID int64 `json:"location_id"`
}

// Decode normalises a raw scan into a Payload. Any parse failure wraps
// storypath.ErrMalformedPayload.
func Decode(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, fmt.Errorf("%w: empty payload", storypath.ErrMalformedPayload)
	}
	if strings.HasPrefix(raw, "{") {
		return decodeJSON(raw)
	}
	return decodeQuery(raw)
}

func decodeJSON(raw string) (Payload, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", storypath.ErrMalformedPayload, err)
	}

	projectID, err := jsonID(fields, "project_id")
	if err != nil {
		return Payload{}, err
	}
	locationID, err := jsonID(fields, "location_id")
	if err != nil {
		return Payload{}, err
	}
	return Payload{ProjectID: projectID, LocationID: locationID}, nil
}

// jsonID accepts either a JSON number or a numeric string.
func jsonID(fields map[string]json.RawMessage, key string) (int64, error) {
	v, ok := fields[key]
	if !ok || bytes.Equal(v, []byte("null")) {
		return 0, fmt.Errorf("%w: missing %s", storypath.ErrMalformedPayload, key)
	}
	s := string(v)
	var str string
	if err := json.Unmarshal(v, &str); err == nil {
		s = str
	}
	return parseID(key, s)
}

func decodeQuery(raw string) (Payload, error) {
	query := raw
	if u, err := url.Parse(raw); err == nil && u.RawQuery != "" {
		query = u.RawQuery
	}
	query = strings.TrimPrefix(query, "?")

	values, err := url.ParseQuery(query)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", storypath.ErrMalformedPayload, err)
	}
	if !values.Has("project_id") || !values.Has("location_id") {
		return Payload{}, fmt.Errorf("%w: expected project_id and location_id", storypath.ErrMalformedPayload)
	}

	projectID, err := parseID("project_id", values.Get("project_id"))
	if err != nil {
		return Payload{}, err
	}
	locationID, err := parseID("location_id", values.Get("location_id"))
	if err != nil {
		return Payload{}, err
	}
	return Payload{ProjectID: projectID, LocationID: locationID}, nil
}

func parseID(key, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s %q is not a positive integer", storypath.ErrMalformedPayload, key, s)
	}
	return id, nil
}

// Validate checks that p belongs to the active project.
func Validate(p Payload, activeProjectID int64) error {
	if p.ProjectID != activeProjectID {
		return fmt.Errorf("%w: scanned project %d, active project %d",
			storypath.ErrWrongProject, p.ProjectID, activeProjectID)
	}
	return nil
}

// Encode renders the canonical JSON form printed on location codes.
func Encode(p Payload) string {
	data, _ := json.Marshal(p)
	return string(data)
}
