/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"encoding/binary"
	"fmt"

	"github.com/tryfix/errors"
)

const (
	magicByte  byte = 0x0
	prefixSize      = 5
)

// Message is an encoded payload and its metadata as handed to and received from a message channel
type Message struct {
	Payload []byte
	Headers map[string]string
}

// ContentType returns the content type header of the message
func (m Message) ContentType() string {
	return m.Headers[HeaderContentType]
}

// encodePrefix returns the confluent wire prefix of a schema id
//
//	╔════════════════════╤════════════════════╤══════════════════════╗
//	║ magic byte(1 byte) │ schema id(4 bytes) │ AVRO encoded message ║
//	╚════════════════════╧════════════════════╧══════════════════════╝
func encodePrefix(id int) []byte {
	byt := make([]byte, prefixSize)
	byt[0] = magicByte
	binary.BigEndian.PutUint32(byt[1:], uint32(id))
	return byt
}

// decodePrefix returns the schema id and the avro payload of a confluent framed message
func decodePrefix(byt []byte) (int, []byte, error) {
	if len(byt) < prefixSize {
		return 0, nil, errors.New(fmt.Sprintf(`message length %d is shorter than the wire prefix`, len(byt)))
	}

	if byt[0] != magicByte {
		return 0, nil, errors.New(fmt.Sprintf(`invalid magic byte 0x%x`, byt[0]))
	}

	return int(binary.BigEndian.Uint32(byt[1:prefixSize])), byt[prefixSize:], nil
}

// frame wraps an encoded payload into a message carrying the reference
func frame(framing Framing, ref Reference, payload []byte) Message {
	if framing == FramingConfluent {
		payload = append(encodePrefix(ref.ID), payload...)
	}

	return Message{
		Payload: payload,
		Headers: map[string]string{HeaderContentType: FormatContentType(ref)},
	}
}
