/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"fmt"
)

// Version is the type to hold a subject version
type Version int

const (
	// VersionDynamic marks a content type that carries no explicit version, the schema is
	// derived from the record type and registered on first use
	VersionDynamic Version = -1
)

// String returns the printable version
func (v Version) String() string {
	if v == VersionDynamic {
		return `Dynamic`
	}

	return fmt.Sprint(int(v))
}

// Format is the serialization format of a registered schema
type Format int

const (
	FormatAvro Format = iota
)

func (f Format) String() string {
	switch f {
	case FormatAvro:
		return `AVRO`
	}

	return fmt.Sprintf(`Format(%d)`, int(f))
}

// Reference identifies the exact schema a message was encoded with.
type Reference struct {
	Subject string `json:"subject"`
	Version int    `json:"version"`
	Format  Format `json:"format"`
	// ID is the store wide schema id, used by the confluent wire framing
	ID int `json:"id"`
}

func (r Reference) String() string {
	return fmt.Sprintf(`%s:v%d`, r.Subject, r.Version)
}

// SchemaRecord holds a registered schema definition and its reference
type SchemaRecord struct {
	Reference  Reference `json:"reference"`
	Definition string    `json:"schema"`
}
