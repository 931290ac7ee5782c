/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// ContentTypeDynamic is the generic avro content type, the schema is generated from the record type
	ContentTypeDynamic = `application/*+avro`
	// ContentTypeLegacy is accepted as an alias of ContentTypeDynamic
	ContentTypeLegacy = `avro/bytes`

	// HeaderContentType is the message header carrying the schema reference
	HeaderContentType = `contentType`
)

var vendorContentType = regexp.MustCompile(`^application/vnd\.([\w.$-]+)\.v(\d+)\+avro$`)

// Resolution is the result of resolving a content type
type Resolution struct {
	Subject string
	Version Version
}

// Dynamic reports whether the content type carried no explicit subject version
func (r Resolution) Dynamic() bool {
	return r.Version == VersionDynamic
}

// ContentTypeResolver maps content types to schema subjects and versions
type ContentTypeResolver struct {
	types *TypeTable
}

// NewContentTypeResolver returns a resolver which infers dynamic subjects from the given table
func NewContentTypeResolver(types *TypeTable) *ContentTypeResolver {
	return &ContentTypeResolver{types: types}
}

// Resolve parses a content type. Vendor types (application/vnd.<subject>.v<version>+avro) resolve to an
// explicit subject and version, generic avro types resolve to a dynamic resolution with an empty subject.
func (c *ContentTypeResolver) Resolve(contentType string) (Resolution, error) {
	mediaType, _, _ := strings.Cut(contentType, `;`)
	mediaType = strings.TrimSpace(mediaType)

	if mediaType == ContentTypeDynamic || mediaType == ContentTypeLegacy {
		return Resolution{Version: VersionDynamic}, nil
	}

	m := vendorContentType.FindStringSubmatch(mediaType)
	if m == nil {
		return Resolution{}, &ConversionError{Reason: fmt.Sprintf(`unsupported content type [%s]`, contentType)}
	}

	v, err := strconv.Atoi(m[2])
	if err != nil || v < 1 {
		return Resolution{}, &ConversionError{Reason: fmt.Sprintf(`invalid version in content type [%s]`, contentType), Err: err}
	}

	return Resolution{Subject: m[1], Version: Version(v)}, nil
}

// ResolveFor resolves the content type for the given record type, dynamic resolutions get their subject from
// the type table.
func (c *ContentTypeResolver) ResolveFor(contentType string, recordType string) (Resolution, error) {
	res, err := c.Resolve(contentType)
	if err != nil {
		return res, err
	}

	if res.Dynamic() {
		typ, err := c.types.Get(recordType)
		if err != nil {
			return res, err
		}
		res.Subject = typ.SubjectName()
	}

	return res, nil
}

// FormatContentType renders the vendor content type of a reference
func FormatContentType(ref Reference) string {
	return fmt.Sprintf(`application/vnd.%s.v%d+avro`, ref.Subject, ref.Version)
}
