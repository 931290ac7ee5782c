/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

// Record is a named tuple of field values. Type selects the RecordType in the converter's TypeTable.
type Record struct {
	Type   string         `json:"type"`
	Values map[string]any `json:"values"`
}

// NewRecord returns a record of the given type
func NewRecord(typ string, values map[string]any) Record {
	if values == nil {
		values = make(map[string]any)
	}

	return Record{Type: typ, Values: values}
}

// Get returns the value of a field or nil if the field is not set
func (r Record) Get(field string) any {
	return r.Values[field]
}

// StringValue returns a string field or an empty string
func (r Record) StringValue(field string) string {
	s, _ := r.Values[field].(string)
	return s
}
