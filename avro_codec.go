/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/hamba/avro/v2"
	"github.com/tryfix/errors"
)

// parseDefinition parses a schema definition with a private name cache, equally named records of different
// subjects must not resolve against each other
func parseDefinition(definition string) (avro.Schema, error) {
	schema, err := avro.ParseWithCache(definition, ``, &avro.SchemaCache{})
	if err != nil {
		return nil, errors.WithPrevious(err, `schema parsing error`)
	}

	return schema, nil
}

// normalizeDefinition returns the parsed schema and its normalized JSON form. Two definitions are equal when
// their normalized forms are equal, defaults and aliases included.
func normalizeDefinition(definition string) (string, avro.Schema, error) {
	schema, err := parseDefinition(definition)
	if err != nil {
		return ``, nil, err
	}

	byt, err := json.Marshal(schema)
	if err != nil {
		return ``, nil, errors.WithPrevious(err, `schema rendering error`)
	}

	return string(byt), schema, nil
}

// avroCodec encodes and decodes record values with a writer schema
type avroCodec struct {
	ref    Reference
	schema *avro.RecordSchema
}

func newAvroCodec(rec SchemaRecord) (*avroCodec, error) {
	schema, err := parseDefinition(rec.Definition)
	if err != nil {
		return nil, &InvalidSchemaError{Subject: rec.Reference.Subject, Err: err}
	}

	record, ok := schema.(*avro.RecordSchema)
	if !ok {
		return nil, &ConversionError{
			Reference: rec.Reference,
			Reason:    fmt.Sprintf(`writer schema must be a record, got [%s]`, schema.Type()),
		}
	}

	return &avroCodec{ref: rec.Reference, schema: record}, nil
}

// Name returns the full name of the writer record
func (c *avroCodec) Name() string {
	return c.schema.FullName()
}

// Marshal encodes the values in schema field order
func (c *avroCodec) Marshal(values map[string]any) ([]byte, error) {
	byt, err := avro.Marshal(c.schema, values)
	if err != nil {
		return nil, &ConversionError{Reference: c.ref, Reason: `avro encoding failed`, Err: err}
	}

	return byt, nil
}

// Unmarshal decodes the payload positionally. The payload has to be consumed exactly, truncated payloads and
// trailing bytes are rejected.
func (c *avroCodec) Unmarshal(data []byte) (map[string]any, error) {
	src := bytes.NewReader(data)
	// a one byte buffer keeps the reader from consuming ahead, so src.Len() is what the schema did not read
	r := avro.NewReader(src, 1)

	values := make(map[string]any, len(c.schema.Fields()))
	r.ReadVal(c.schema, &values)
	if r.Error != nil {
		return nil, &ConversionError{
			Reference: c.ref,
			Reason:    fmt.Sprintf(`payload of %d bytes does not match the writer schema`, len(data)),
			Err:       r.Error,
		}
	}

	if src.Len() > 0 {
		return nil, &ConversionError{
			Reference: c.ref,
			Reason:    fmt.Sprintf(`%d trailing bytes after the last field`, src.Len()),
		}
	}

	for _, f := range c.schema.Fields() {
		schema := f.Type()
		if branch, ok := nullableBranch(schema); ok {
			schema = branch
			values[f.Name()] = unwrapUnion(values[f.Name()])
		}

		if s, ok := values[f.Name()].(string); ok && schema.Type() == avro.String && !utf8.ValidString(s) {
			return nil, &ConversionError{
				Reference: c.ref,
				Reason:    fmt.Sprintf(`field [%s] is not valid UTF-8`, f.Name()),
			}
		}
	}

	return values, nil
}

// fieldType returns the type of a writer schema field, nullable fields (["null", T]) report T
func (c *avroCodec) fieldType(name string) (typ avro.Type, nullable bool, declared bool) {
	for _, f := range c.schema.Fields() {
		if f.Name() != name {
			continue
		}

		if branch, ok := nullableBranch(f.Type()); ok {
			return branch.Type(), true, true
		}

		return f.Type().Type(), false, true
	}

	return ``, false, false
}

// nullableBranch returns T of a ["null", T] union
func nullableBranch(schema avro.Schema) (avro.Schema, bool) {
	union, ok := schema.(*avro.UnionSchema)
	if !ok || len(union.Types()) != 2 {
		return nil, false
	}

	a, b := union.Types()[0], union.Types()[1]
	switch {
	case a.Type() == avro.Null && b.Type() != avro.Null:
		return b, true
	case b.Type() == avro.Null && a.Type() != avro.Null:
		return a, true
	}

	return nil, false
}

// unwrapUnion returns the plain value of a decoded union: nil, the value of a single entry {"type": value} map or
// the value a pointer refers to
func unwrapUnion(v any) any {
	switch u := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if len(u) == 1 {
			for _, inner := range u {
				return inner
			}
		}
		return u
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}

	return v
}
