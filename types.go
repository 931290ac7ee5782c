/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hamba/avro/v2"
	"github.com/tryfix/errors"
)

// FieldType is the avro primitive type of a record field
type FieldType string

const (
	TypeString  FieldType = `string`
	TypeBoolean FieldType = `boolean`
	TypeInt     FieldType = `int`
	TypeLong    FieldType = `long`
	TypeFloat   FieldType = `float`
	TypeDouble  FieldType = `double`
	TypeBytes   FieldType = `bytes`
)

func (t FieldType) avroType() (avro.Type, error) {
	switch t {
	case TypeString:
		return avro.String, nil
	case TypeBoolean:
		return avro.Boolean, nil
	case TypeInt:
		return avro.Int, nil
	case TypeLong:
		return avro.Long, nil
	case TypeFloat:
		return avro.Float, nil
	case TypeDouble:
		return avro.Double, nil
	case TypeBytes:
		return avro.Bytes, nil
	}

	return ``, errors.New(fmt.Sprintf(`unsupported field type [%s]`, t))
}

// Field describes a single record field. A nil Default means the field has no default. Readers accept writer
// fields of the same type, of a promotable type and nullable (["null", T]) writer fields holding a value.
type Field struct {
	Name    string    `yaml:"name"`
	Type    FieldType `yaml:"type"`
	Default any       `yaml:"default,omitempty"`
}

// RecordType describes a record shape and the subject it is published under.
type RecordType struct {
	Name      string   `yaml:"name"`
	Namespace string   `yaml:"namespace,omitempty"`
	Subject   string   `yaml:"subject,omitempty"` // defaults to the lower cased name
	Aliases   []string `yaml:"aliases,omitempty"` // writer record names this type can read
	Fields    []Field  `yaml:"fields"`
}

// SubjectName returns the subject the type is registered under
func (t RecordType) SubjectName() string {
	if t.Subject != `` {
		return t.Subject
	}

	return strings.ToLower(t.Name)
}

// Field returns the named field
func (t RecordType) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return Field{}, false
}

// AvroSchema builds the avro record schema of the type
func (t RecordType) AvroSchema() (*avro.RecordSchema, error) {
	fields := make([]*avro.Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		typ, err := f.Type.avroType()
		if err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`field [%s.%s]`, t.Name, f.Name))
		}

		var opts []avro.SchemaOption
		if f.Default != nil {
			def, err := jsonDefault(f.Type, f.Default)
			if err != nil {
				return nil, errors.WithPrevious(err, fmt.Sprintf(`default of field [%s.%s]`, t.Name, f.Name))
			}
			opts = append(opts, avro.WithDefault(def))
		}

		field, err := avro.NewField(f.Name, avro.NewPrimitiveSchema(typ, nil), opts...)
		if err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`field [%s.%s]`, t.Name, f.Name))
		}
		fields = append(fields, field)
	}

	var opts []avro.SchemaOption
	if len(t.Aliases) > 0 {
		opts = append(opts, avro.WithAliases(t.Aliases))
	}

	return avro.NewRecordSchema(t.Name, t.Namespace, fields, opts...)
}

// Definition generates the avro schema definition (JSON) of the type
func (t RecordType) Definition() (string, error) {
	schema, err := t.AvroSchema()
	if err != nil {
		return ``, err
	}

	byt, err := json.Marshal(schema)
	if err != nil {
		return ``, errors.WithPrevious(err, fmt.Sprintf(`cannot render schema of type [%s]`, t.Name))
	}

	return string(byt), nil
}

// readsName reports whether a writer record with the given name can be read as this type
func (t RecordType) readsName(name string) bool {
	if name == t.Name || (t.Namespace != `` && name == t.Namespace+`.`+t.Name) {
		return true
	}

	for _, alias := range t.Aliases {
		if alias == name {
			return true
		}
	}

	return false
}

type typeEntry struct {
	typ        RecordType
	definition string
}

// TypeTable is the explicit registry of record types known to a converter. It replaces runtime type
// inspection: a record's type name selects its shape, subject and generated schema.
type TypeTable struct {
	mu    sync.RWMutex
	types map[string]*typeEntry
}

// NewTypeTable returns a table holding the given types
func NewTypeTable(types ...RecordType) (*TypeTable, error) {
	t := &TypeTable{types: make(map[string]*typeEntry)}
	if err := t.Register(types...); err != nil {
		return nil, err
	}

	return t, nil
}

// Register validates and adds the types, replacing previous types with the same name
func (t *TypeTable) Register(types ...RecordType) error {
	entries := make([]*typeEntry, 0, len(types))
	for _, typ := range types {
		if typ.Name == `` {
			return errors.New(`record type name cannot be empty`)
		}

		seen := make(map[string]struct{}, len(typ.Fields))
		for _, f := range typ.Fields {
			if _, ok := seen[f.Name]; ok {
				return errors.New(fmt.Sprintf(`duplicate field [%s] in type [%s]`, f.Name, typ.Name))
			}
			seen[f.Name] = struct{}{}
		}

		def, err := typ.Definition()
		if err != nil {
			return &InvalidSchemaError{Subject: typ.SubjectName(), Err: err}
		}

		entries = append(entries, &typeEntry{typ: typ, definition: def})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range entries {
		t.types[e.typ.Name] = e
	}

	return nil
}

// Get returns the named type
func (t *TypeTable) Get(name string) (RecordType, error) {
	e, err := t.entry(name)
	if err != nil {
		return RecordType{}, err
	}

	return e.typ, nil
}

// Definition returns the generated schema definition of the named type
func (t *TypeTable) Definition(name string) (string, error) {
	e, err := t.entry(name)
	if err != nil {
		return ``, err
	}

	return e.definition, nil
}

// Names returns the registered type names
func (t *TypeTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.types))
	for name := range t.types {
		names = append(names, name)
	}

	return names
}

func (t *TypeTable) entry(name string) (*typeEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.types[name]
	if !ok {
		return nil, &ConversionError{Reason: fmt.Sprintf(`record type [%s] not registered`, name)}
	}

	return e, nil
}

// jsonDefault converts a default to the JSON shape avro schema defaults are declared with
func jsonDefault(typ FieldType, v any) (any, error) {
	native, err := normalizeValue(typ, v)
	if err != nil {
		return nil, err
	}

	switch n := native.(type) {
	case []byte:
		return string(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	}

	return native, nil
}

// normalizeValue converts v to the go type the avro codec uses for the field type:
// string, bool, int, int64, float32, float64 and []byte.
func normalizeValue(typ FieldType, v any) (any, error) {
	switch typ {
	case TypeString:
		var s string
		switch str := v.(type) {
		case string:
			s = str
		case []byte:
			s = string(str)
		default:
			return nil, errors.New(fmt.Sprintf(`value %v (%T) is not assignable to [%s]`, v, v, typ))
		}

		if !utf8.ValidString(s) {
			return nil, errors.New(fmt.Sprintf(`value %q is not valid UTF-8`, s))
		}

		return s, nil
	case TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInt:
		if i, ok := toInt64(v); ok && i >= math.MinInt32 && i <= math.MaxInt32 {
			return int(i), nil
		}
	case TypeLong:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return float32(f), nil
		}
	case TypeDouble:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	default:
		return nil, errors.New(fmt.Sprintf(`unsupported field type [%s]`, typ))
	}

	return nil, errors.New(fmt.Sprintf(`value %v (%T) is not assignable to [%s]`, v, v, typ))
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<63 {
			return int64(n), true
		}
	}

	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}

	if i, ok := toInt64(v); ok {
		return float64(i), true
	}

	return 0, false
}
