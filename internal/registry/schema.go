package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"valve_dashboard/internal/models"
)

// deviceSchema accepts what the backend serializer emits and tolerates
// nulls; an id is the only hard requirement.
const deviceSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id"],
	"properties": {
		"id":         {"type": ["integer", "string"], "minLength": 1},
		"name":       {"type": ["string", "null"]},
		"device_id":  {"type": ["string", "null"]},
		"ip_address": {"type": ["string", "null"]},
		"is_online":  {"type": ["boolean", "null"]},
		"created_at": {"type": ["string", "null"]},
		"updated_at": {"type": ["string", "null"]}
	}
}`

const deviceSchemaURL = "device.json"

// recordValidator checks single device records against deviceSchema.
type recordValidator struct {
	schema *jsonschema.Schema
}

func newRecordValidator() (*recordValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(deviceSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal device schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(deviceSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add device schema: %w", err)
	}
	sch, err := c.Compile(deviceSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile device schema: %w", err)
	}
	return &recordValidator{schema: sch}, nil
}

// Validate reports why raw is not a usable device record, or nil.
func (v *recordValidator) Validate(raw json.RawMessage) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("record is not JSON: %w", err)
	}
	return v.schema.Validate(inst)
}

// deviceID accepts both numeric and string ids; either way the id stays
// opaque to the client.
type deviceID string

func (d *deviceID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = deviceID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*d = deviceID(n.String())
	return nil
}

// wireDevice mirrors the backend serializer with every field nullable.
type wireDevice struct {
	ID        deviceID `json:"id"`
	Name      *string  `json:"name"`
	DeviceID  *string  `json:"device_id"`
	IPAddress *string  `json:"ip_address"`
	IsOnline  *bool    `json:"is_online"`
	CreatedAt *string  `json:"created_at"`
	UpdatedAt *string  `json:"updated_at"`
}

// toDevice converts a validated record. Unparseable timestamps become zero.
func toDevice(raw json.RawMessage) (models.Device, error) {
	var w wireDevice
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.Device{}, err
	}
	if w.ID == "" {
		return models.Device{}, errors.New("empty id")
	}
	return models.Device{
		ID:        string(w.ID),
		Name:      deref(w.Name),
		DeviceID:  deref(w.DeviceID),
		IPAddress: deref(w.IPAddress),
		IsOnline:  w.IsOnline != nil && *w.IsOnline,
		CreatedAt: parseTime(w.CreatedAt),
		UpdatedAt: parseTime(w.UpdatedAt),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseTime(s *string) time.Time {
	if s == nil || *s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02"} {
		if t, err := time.Parse(layout, *s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
