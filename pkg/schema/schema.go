// Package schema describes the fixed telemetry layouts emitted by the field devices and decodes
// raw payloads into typed records.
package schema

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/valyala/fastjson"

	"twin-relay/pkg/event"
	"twin-relay/pkg/twin"
)

type Kind int

const (
	String Kind = iota
	Number
	Bool
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

var (
	ErrInvalidJSON  = fmt.Errorf("%w: invalid json", event.ErrMalformed)
	ErrMissingField = fmt.Errorf("%w: missing field", event.ErrMalformed)
	ErrWrongType    = fmt.Errorf("%w: wrong field type", event.ErrMalformed)
	ErrUnknown      = errors.New("unknown schema")
)

type Field struct {
	Name string
	Kind Kind
}

// Path is the twin property path the field is written to.
func (f Field) Path() string { return twin.PropertyPath(f.Name) }

// Value converts v to the Go value for the field's kind. Empty strings are kept as is.
func (f Field) Value(v *fastjson.Value) (any, error) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, f.Name)
	}
	switch f.Kind {
	case String:
		b, err := v.StringBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: %s is %s, want string", ErrWrongType, f.Name, v.Type())
		}
		return string(b), nil
	case Number:
		n, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s is %s, want number", ErrWrongType, f.Name, v.Type())
		}
		return n, nil
	case Bool:
		b, err := v.Bool()
		if err != nil {
			return nil, fmt.Errorf("%w: %s is %s, want bool", ErrWrongType, f.Name, v.Type())
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s has unsupported kind %s", ErrWrongType, f.Name, f.Kind)
}

type Schema struct {
	Name   string
	Fields []Field
}

var (
	// Temperature is the sensor layout: {"status":"OK","temperature":21.5}.
	Temperature = Schema{
		Name: "temperature",
		Fields: []Field{
			{Name: "status", Kind: String},
			{Name: "temperature", Kind: Number},
		},
	}

	// PLC carries the ten digital input channels of the station controller.
	PLC = Schema{
		Name:   "plc",
		Fields: plcChannels(10),
	}
)

func plcChannels(n int) []Field {
	fields := make([]Field, n)
	for i := range fields {
		fields[i] = Field{Name: "input" + strconv.Itoa(i+1), Kind: Bool}
	}
	return fields
}

// Lookup returns the built-in schema called name.
func Lookup(name string) (Schema, error) {
	switch name {
	case Temperature.Name:
		return Temperature, nil
	case PLC.Name:
		return PLC, nil
	}
	return Schema{}, fmt.Errorf("%w: %q", ErrUnknown, name)
}

// FieldByPath finds the field written to path.
func (s Schema) FieldByPath(path string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Path() == path {
			return f, true
		}
	}
	return Field{}, false
}

type FieldValue struct {
	Name  string
	Value any
}

// Record is a decoded payload with values in schema order.
type Record struct {
	Schema string
	Values []FieldValue
}

func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Values))
	for _, fv := range r.Values {
		m[fv.Name] = fv.Value
	}
	return m
}

var parsers fastjson.ParserPool

// Decode parses payload as a JSON object and extracts every schema field.
// Unknown keys are ignored. When a key repeats, its last occurrence is used.
func (s Schema) Decode(payload []byte) (Record, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(payload)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if v.Type() != fastjson.TypeObject {
		return Record{}, fmt.Errorf("%w: top level is %s, want object", ErrInvalidJSON, v.Type())
	}

	members := lastMembers(v.GetObject())

	rec := Record{Schema: s.Name, Values: make([]FieldValue, 0, len(s.Fields))}
	for _, f := range s.Fields {
		val, err := f.Value(members[f.Name])
		if err != nil {
			return Record{}, err
		}
		rec.Values = append(rec.Values, FieldValue{Name: f.Name, Value: val})
	}
	return rec, nil
}

func lastMembers(o *fastjson.Object) map[string]*fastjson.Value {
	m := make(map[string]*fastjson.Value)
	if o == nil {
		return m
	}
	o.Visit(func(key []byte, v *fastjson.Value) {
		m[string(key)] = v
	})
	return m
}
