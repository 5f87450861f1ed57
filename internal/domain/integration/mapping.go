package integration

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transform names understood by FieldMapping
const (
	TransformNone    = ""
	TransformString  = "string"
	TransformInt     = "int"
	TransformFloat   = "float"
	TransformDecimal = "decimal"
	TransformBool    = "bool"
	TransformTime    = "time"
	TransformUpper   = "upper"
	TransformLower   = "lower"
	TransformTrim    = "trim"
)

var knownTransforms = map[string]bool{
	TransformNone: true, TransformString: true, TransformInt: true, TransformFloat: true,
	TransformDecimal: true, TransformBool: true, TransformTime: true,
	TransformUpper: true, TransformLower: true, TransformTrim: true,
}

// FieldMapping copies one vendor field (Source, a dot path that may contain
// array indices such as "line_items.0.sku") to one internal field (Target).
type FieldMapping struct {
	Source    string `yaml:"source" json:"source"`
	Target    string `yaml:"target" json:"target"`
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`
	Required  bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Default   any    `yaml:"default,omitempty" json:"default,omitempty"`
}

// MappingSet describes how one vendor record kind maps to the internal schema
type MappingSet struct {
	Type            IntegrationType `yaml:"type" json:"type"`
	Kind            RecordKind      `yaml:"kind" json:"kind"`
	ExternalIDField string          `yaml:"external_id" json:"external_id"`
	UpdatedAtField  string          `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	Fields          []FieldMapping  `yaml:"fields" json:"fields"`
}

// MappingProvider resolves the mapping for an integration type and record kind
type MappingProvider interface {
	Mapping(t IntegrationType, kind RecordKind) (*MappingSet, error)
}

// Validate checks the mapping definition is usable
func (m *MappingSet) Validate() error {
	if !m.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrMappingInvalid, m.Type)
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMappingInvalid, m.Kind)
	}
	if m.ExternalIDField == "" {
		return fmt.Errorf("%w: %s/%s has no external_id field", ErrMappingInvalid, m.Type, m.Kind)
	}
	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		if f.Source == "" || f.Target == "" {
			return fmt.Errorf("%w: %s/%s field needs source and target", ErrMappingInvalid, m.Type, m.Kind)
		}
		if !knownTransforms[f.Transform] {
			return fmt.Errorf("%w: unknown transform %q on %s", ErrMappingInvalid, f.Transform, f.Target)
		}
		if seen[f.Target] {
			return fmt.Errorf("%w: duplicate target %s", ErrMappingInvalid, f.Target)
		}
		seen[f.Target] = true
	}
	return nil
}

// Map translates a vendor record into the internal schema
func (m *MappingSet) Map(ext ExternalRecord) (Record, error) {
	rec := Record{
		Kind:            m.Kind,
		ExternalID:      ext.ExternalID,
		SourceUpdatedAt: ext.ModifiedAt,
		Data:            make(map[string]any, len(m.Fields)),
	}

	if rec.ExternalID == "" {
		if v, ok := Lookup(ext.Fields, m.ExternalIDField); ok {
			rec.ExternalID = stringify(v)
		}
	}
	if rec.ExternalID == "" {
		return Record{}, fmt.Errorf("%w: missing external id %q", ErrMappingFailed, m.ExternalIDField)
	}

	if rec.SourceUpdatedAt.IsZero() && m.UpdatedAtField != "" {
		if v, ok := Lookup(ext.Fields, m.UpdatedAtField); ok {
			if t, err := toTime(v); err == nil {
				rec.SourceUpdatedAt = t
			}
		}
	}

	for _, f := range m.Fields {
		raw, ok := Lookup(ext.Fields, f.Source)
		if !ok || raw == nil {
			if f.Required {
				return Record{}, fmt.Errorf("%w: required field %q missing", ErrMappingFailed, f.Source)
			}
			if f.Default != nil {
				rec.Data[f.Target] = f.Default
			}
			continue
		}
		val, err := applyTransform(f.Transform, raw)
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %q: %v", ErrMappingFailed, f.Source, err)
		}
		rec.Data[f.Target] = val
	}

	sum, err := Checksum(rec.Data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}
	rec.Checksum = sum
	return rec, nil
}

// Reverse builds the vendor payload for an internal record. Fields whose
// source path goes through an array index are not reconstructed.
func (m *MappingSet) Reverse(rec Record) map[string]any {
	out := make(map[string]any, len(m.Fields)+1)
	assign(out, m.ExternalIDField, rec.ExternalID)
	for _, f := range m.Fields {
		v, ok := rec.Data[f.Target]
		if !ok {
			continue
		}
		assign(out, f.Source, v)
	}
	return out
}

// Lookup resolves a dot path against decoded JSON
func Lookup(fields map[string]any, path string) (any, bool) {
	var cur any = fields
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func assign(out map[string]any, path string, value any) {
	segs := strings.Split(path, ".")
	node := out
	for i, seg := range segs {
		if _, err := strconv.Atoi(seg); err == nil {
			return
		}
		if i == len(segs)-1 {
			node[seg] = value
			return
		}
		next, ok := node[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[seg] = next
		}
		node = next
	}
}

func applyTransform(name string, v any) (any, error) {
	switch name {
	case TransformNone:
		return v, nil
	case TransformString:
		return stringify(v), nil
	case TransformTrim:
		return strings.TrimSpace(stringify(v)), nil
	case TransformUpper:
		return strings.ToUpper(strings.TrimSpace(stringify(v))), nil
	case TransformLower:
		return strings.ToLower(strings.TrimSpace(stringify(v))), nil
	case TransformInt:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		return int64(f), nil
	case TransformFloat:
		return toFloat(v)
	case TransformDecimal:
		d, err := decimal.NewFromString(strings.TrimSpace(stringify(v)))
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	case TransformBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		default:
			return strconv.ParseBool(strings.TrimSpace(stringify(v)))
		}
	case TransformTime:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return t.UTC().Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("%v is not numeric", v)
	}
}

// toTime accepts RFC3339 strings, SAP "/Date(ms)/" literals and unix seconds
func toTime(v any) (time.Time, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "/Date(") && strings.HasSuffix(s, ")/") {
			body := strings.TrimSuffix(strings.TrimPrefix(s, "/Date("), ")/")
			if i := strings.IndexAny(body, "+-"); i > 0 {
				body = body[:i]
			}
			ms, err := strconv.ParseInt(body, 10, 64)
			if err != nil {
				return time.Time{}, err
			}
			return time.UnixMilli(ms).UTC(), nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("unparseable time %q", s)
	}
	f, err := toFloat(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(f), 0).UTC(), nil
}
