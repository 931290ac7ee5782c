/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"sort"

	"github.com/segmentio/kafka-go"
)

// ToKafkaMessage maps a converted message onto a kafka message, headers are written in key order
func ToKafkaMessage(msg Message, key []byte) kafka.Message {
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(msg.Headers[k])})
	}

	return kafka.Message{
		Key:     key,
		Value:   msg.Payload,
		Headers: headers,
	}
}

// FromKafkaMessage returns the message a kafka message carries. For repeated header keys the last value wins.
func FromKafkaMessage(km kafka.Message) Message {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}

	return Message{
		Payload: km.Value,
		Headers: headers,
	}
}
