/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"context"
	goerrors "errors"
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
	"github.com/tryfix/log"
)

// recordLookup is implemented by stores able to return the full schema record of a reference
type recordLookup interface {
	LookupRecord(ctx context.Context, ref Reference) (SchemaRecord, error)
}

// Converter serializes records into avro messages referencing their writer schema and deserializes such messages
// into records of a reader type. A producer and a consumer exchanging messages have to share the Store.
type Converter struct {
	store    Store
	types    *TypeTable
	resolver *ContentTypeResolver
	codecs   map[string]*avroCodec
	mu       *sync.RWMutex
	options  *options
	logger   log.Logger
	metrics  *converterMetrics
}

// NewConverter returns a converter resolving schemas through the store and record shapes through the type table
func NewConverter(store Store, types *TypeTable, opts ...Option) *Converter {
	options := newOptions(opts...)

	return &Converter{
		store:    store,
		types:    types,
		resolver: NewContentTypeResolver(types),
		codecs:   make(map[string]*avroCodec),
		mu:       new(sync.RWMutex),
		options:  options,
		logger:   options.logger.NewLog(log.Prefixed(`avroconverter.converter`)),
		metrics:  newConverterMetrics(options.registerer),
	}
}

// Serialize encodes the record and frames it into a message whose content type header references the writer schema
func (c *Converter) Serialize(ctx context.Context, record Record, contentType string) (Message, error) {
	payload, ref, err := c.Encode(ctx, record, contentType)
	if err != nil {
		return Message{}, err
	}

	msg := frame(c.options.framing, ref, payload)
	c.metrics.converted(`serialize`, ref.Subject, len(msg.Payload))

	return msg, nil
}

// Deserialize decodes the message with the writer schema it references and projects it onto the reader type
func (c *Converter) Deserialize(ctx context.Context, msg Message, readerType string) (Record, error) {
	ref, payload, err := c.unframe(ctx, msg)
	if err != nil {
		c.metrics.failed(`deserialize`)
		return Record{}, err
	}

	rec, err := c.Decode(ctx, payload, ref, readerType)
	if err != nil {
		return Record{}, err
	}

	c.metrics.converted(`deserialize`, ref.Subject, len(msg.Payload))

	return rec, nil
}

// Encode returns the avro payload of the record and the reference of the schema it was written with.
//
// With dynamic schema generation enabled the writer schema is generated from the record type and registered under
// the type subject, the content type only has to be an avro one. Otherwise the content type has to name the
// subject version and the record has to provide every field of that schema.
func (c *Converter) Encode(ctx context.Context, record Record, contentType string) ([]byte, Reference, error) {
	payload, ref, err := c.encode(ctx, record, contentType)
	if err != nil {
		c.metrics.failed(`serialize`)
		c.logger.Error(fmt.Sprintf(`cannot serialize record of type [%s] as [%s] due to %s`, record.Type, contentType, err))
		return nil, Reference{}, err
	}

	return payload, ref, nil
}

func (c *Converter) encode(ctx context.Context, record Record, contentType string) ([]byte, Reference, error) {
	typ, err := c.types.Get(record.Type)
	if err != nil {
		return nil, Reference{}, err
	}

	res, err := c.resolver.ResolveFor(contentType, record.Type)
	if err != nil {
		return nil, Reference{}, err
	}

	var rec SchemaRecord
	switch {
	case c.options.dynamicSchemas:
		definition, err := c.types.Definition(typ.Name)
		if err != nil {
			return nil, Reference{}, err
		}

		ref, err := c.store.RegisterOrResolve(ctx, typ.SubjectName(), definition)
		if err != nil {
			return nil, Reference{}, err
		}
		rec = SchemaRecord{Reference: ref, Definition: definition}

	case res.Dynamic():
		return nil, Reference{}, &ConversionError{
			Reason: fmt.Sprintf(`content type [%s] requires dynamic schema generation`, contentType),
		}

	default:
		rec, err = c.lookup(ctx, Reference{Subject: res.Subject, Version: int(res.Version), Format: FormatAvro})
		if err != nil {
			return nil, Reference{}, err
		}
	}

	codec, err := c.codec(rec)
	if err != nil {
		return nil, Reference{}, err
	}

	values, err := writerValues(codec, typ, record)
	if err != nil {
		return nil, Reference{}, err
	}

	payload, err := codec.Marshal(values)
	if err != nil {
		return nil, Reference{}, err
	}

	return payload, rec.Reference, nil
}

// Decode decodes an avro payload written with the referenced schema. An empty reader type returns the record as
// written, named after the writer schema.
func (c *Converter) Decode(ctx context.Context, payload []byte, ref Reference, readerType string) (Record, error) {
	rec, err := c.decode(ctx, payload, ref, readerType)
	if err != nil {
		c.metrics.failed(`deserialize`)
		c.logger.Error(fmt.Sprintf(`cannot deserialize [%s] as [%s] due to %s`, ref, readerType, err))
		return Record{}, err
	}

	return rec, nil
}

func (c *Converter) decode(ctx context.Context, payload []byte, ref Reference, readerType string) (Record, error) {
	var reader RecordType
	if readerType != `` {
		typ, err := c.types.Get(readerType)
		if err != nil {
			return Record{}, err
		}
		reader = typ
	}

	var rec SchemaRecord
	var err error
	if ref.Subject == `` && ref.ID > 0 {
		rec, err = c.store.LookupID(ctx, ref.ID)
	} else {
		rec, err = c.lookup(ctx, ref)
	}
	if err != nil {
		return Record{}, err
	}

	if ref.ID > 0 && rec.Reference.ID > 0 && ref.ID != rec.Reference.ID {
		return Record{}, &ConversionError{
			Reference: rec.Reference,
			Reason:    fmt.Sprintf(`wire prefix references schema id [%d], the header schema id [%d]`, ref.ID, rec.Reference.ID),
		}
	}

	codec, err := c.codec(rec)
	if err != nil {
		return Record{}, err
	}

	values, err := codec.Unmarshal(payload)
	if err != nil {
		return Record{}, err
	}

	if readerType == `` {
		return NewRecord(codec.schema.Name(), values), nil
	}

	return project(codec, reader, values)
}

// Reference returns the schema reference a message carries
func (c *Converter) Reference(ctx context.Context, msg Message) (Reference, error) {
	ref, _, err := c.unframe(ctx, msg)
	return ref, err
}

func (c *Converter) unframe(_ context.Context, msg Message) (Reference, []byte, error) {
	payload := msg.Payload
	ref := Reference{Format: FormatAvro}

	if c.options.framing == FramingConfluent {
		id, rest, err := decodePrefix(payload)
		if err != nil {
			return Reference{}, nil, &ConversionError{Reason: `invalid wire prefix`, Err: err}
		}
		ref.ID = id
		payload = rest
	}

	if ct := msg.ContentType(); ct != `` {
		res, err := c.resolver.Resolve(ct)
		if err != nil {
			return Reference{}, nil, err
		}

		if !res.Dynamic() {
			ref.Subject = res.Subject
			ref.Version = int(res.Version)
			return ref, payload, nil
		}
	}

	if ref.ID > 0 {
		return ref, payload, nil
	}

	return Reference{}, nil, &ConversionError{Reason: `message does not reference a schema`}
}

func (c *Converter) lookup(ctx context.Context, ref Reference) (SchemaRecord, error) {
	if l, ok := c.store.(recordLookup); ok {
		return l.LookupRecord(ctx, ref)
	}

	definition, err := c.store.Lookup(ctx, ref)
	if err != nil {
		return SchemaRecord{}, err
	}

	return SchemaRecord{Reference: ref, Definition: definition}, nil
}

// codec returns the cached codec of a schema record
func (c *Converter) codec(rec SchemaRecord) (*avroCodec, error) {
	key := fmt.Sprintf(`%s:%d:%d`, rec.Reference.Subject, rec.Reference.Version, rec.Reference.ID)

	c.mu.RLock()
	codec, ok := c.codecs[key]
	c.mu.RUnlock()
	if ok {
		return codec, nil
	}

	codec, err := newAvroCodec(rec)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.codecs[key] = codec
	c.mu.Unlock()

	return codec, nil
}

// writerValues builds the values of the writer schema fields from the record. Values the record does not set
// take the record type default, then the writer schema default.
func writerValues(codec *avroCodec, typ RecordType, record Record) (map[string]any, error) {
	for name := range record.Values {
		if _, ok := typ.Field(name); !ok {
			return nil, &ConversionError{
				Reference: codec.ref,
				Reason:    fmt.Sprintf(`field [%s] is not declared by type [%s]`, name, typ.Name),
			}
		}
	}

	values := make(map[string]any, len(codec.schema.Fields()))
	for _, f := range codec.schema.Fields() {
		if f.Type().Type() == avro.Null {
			values[f.Name()] = nil
			continue
		}

		v, set := record.Values[f.Name()]
		if _, nullable := nullableBranch(f.Type()); set && v == nil && nullable {
			values[f.Name()] = nil
			continue
		}

		if !set || v == nil {
			if tf, ok := typ.Field(f.Name()); ok && tf.Default != nil {
				v, set = tf.Default, true
			}
		}

		if !set || v == nil {
			if f.HasDefault() {
				values[f.Name()] = f.Default()
				continue
			}

			return nil, &ConversionError{
				Reference: codec.ref,
				Reason:    fmt.Sprintf(`no value for writer field [%s]`, f.Name()),
			}
		}

		nv, err := normalizeWriterValue(f.Type(), v)
		if err != nil {
			return nil, &ConversionError{Reference: codec.ref, Reason: fmt.Sprintf(`field [%s]`, f.Name()), Err: err}
		}
		values[f.Name()] = nv
	}

	return values, nil
}

// normalizeWriterValue converts values of plain primitive fields and of nullable primitive fields, other schemas
// get the value as is
func normalizeWriterValue(schema avro.Schema, v any) (any, error) {
	if branch, ok := nullableBranch(schema); ok {
		schema = branch
	}

	p, ok := schema.(*avro.PrimitiveSchema)
	if !ok || p.Logical() != nil {
		return v, nil
	}

	return normalizeValue(FieldType(schema.Type()), v)
}

// IsRetryable reports whether err is a transient registry failure a caller may retry later
func IsRetryable(err error) bool {
	return goerrors.Is(err, ErrRegistryUnavailable)
}
