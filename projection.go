/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"fmt"

	"github.com/hamba/avro/v2"
)

// promotable reports whether a writer value can be read as the reader type, following the avro resolution rules
func promotable(writer avro.Type, reader FieldType) bool {
	if string(writer) == string(reader) {
		return true
	}

	switch writer {
	case avro.Int:
		return reader == TypeLong || reader == TypeFloat || reader == TypeDouble
	case avro.Long:
		return reader == TypeFloat || reader == TypeDouble
	case avro.Float:
		return reader == TypeDouble
	case avro.String:
		return reader == TypeBytes
	case avro.Bytes:
		return reader == TypeString
	}

	return false
}

// project maps values decoded with the writer schema onto the reader type. Fields the writer did not declare take
// the reader default, a reader field without default and without writer value fails.
func project(codec *avroCodec, reader RecordType, values map[string]any) (Record, error) {
	if !reader.readsName(codec.Name()) {
		return Record{}, &ConversionError{
			Reference: codec.ref,
			Reason:    fmt.Sprintf(`reader type [%s] cannot read writer record [%s]`, reader.Name, codec.Name()),
		}
	}

	out := NewRecord(reader.Name, make(map[string]any, len(reader.Fields)))
	for _, f := range reader.Fields {
		writerType, nullable, declared := codec.fieldType(f.Name)
		if !declared {
			if f.Default == nil {
				return Record{}, &ConversionError{
					Reference: codec.ref,
					Reason:    fmt.Sprintf(`reader field [%s.%s] is missing in the writer schema and has no default`, reader.Name, f.Name),
				}
			}

			def, err := normalizeValue(f.Type, f.Default)
			if err != nil {
				return Record{}, &ConversionError{Reference: codec.ref, Reason: `invalid reader default`, Err: err}
			}
			out.Values[f.Name] = def
			continue
		}

		if !promotable(writerType, f.Type) {
			return Record{}, &ConversionError{
				Reference: codec.ref,
				Reason:    fmt.Sprintf(`writer field [%s] of type [%s] cannot be read as [%s]`, f.Name, writerType, f.Type),
			}
		}

		if values[f.Name] == nil && nullable {
			return Record{}, &ConversionError{
				Reference: codec.ref,
				Reason:    fmt.Sprintf(`writer field [%s] is null, reader field [%s.%s] is not nullable`, f.Name, reader.Name, f.Name),
			}
		}

		v, err := normalizeValue(f.Type, values[f.Name])
		if err != nil {
			return Record{}, &ConversionError{Reference: codec.ref, Reason: fmt.Sprintf(`field [%s]`, f.Name), Err: err}
		}
		out.Values[f.Name] = v
	}

	return out, nil
}
