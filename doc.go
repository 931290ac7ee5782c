/*
Package avroconverter converts records to and from avro encoded messages whose schemas live in a schema store.

A producer serializes a Record through a content type, the converter resolves or registers the writer schema and
embeds its reference into the message headers. A consumer deserializes the message with the referenced writer
schema and projects it onto its own reader type, fields the writer did not know take the reader defaults.

# Features
  - Dynamic schema generation from an explicit table of record types
  - Vendor content types (application/vnd.<subject>.v<version>+avro) and application/*+avro
  - In memory store and a confluent schema registry backed store with retries and background sync
  - Header framing or confluent wire framing (magic byte and schema id)

Schema registry API : https://docs.confluent.io/platform/current/schema-registry/develop/api.html

Avro: http://avro.apache.org/docs/current/
*/

package avroconverter
