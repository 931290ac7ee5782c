/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"context"
)

// Channel is an in process message channel. Sent messages are buffered until polled.
type Channel struct {
	name     string
	messages chan Message
}

// NewChannel returns a channel buffering up to size messages
func NewChannel(name string, size int) *Channel {
	return &Channel{name: name, messages: make(chan Message, size)}
}

// Name returns the channel name
func (c *Channel) Name() string {
	return c.name
}

// Send buffers the message, it blocks while the buffer is full
func (c *Channel) Send(ctx context.Context, msg Message) error {
	select {
	case c.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll returns the next message, it blocks until a message is sent or ctx is done
func (c *Channel) Poll(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Source serializes records with a fixed content type and sends them to its output channel
type Source struct {
	converter   *Converter
	output      *Channel
	contentType string
}

// NewSource returns a source publishing to output
func NewSource(converter *Converter, output *Channel, contentType string) *Source {
	return &Source{converter: converter, output: output, contentType: contentType}
}

// Output returns the channel the source publishes to
func (s *Source) Output() *Channel {
	return s.output
}

// Send serializes the record and publishes the message
func (s *Source) Send(ctx context.Context, record Record) error {
	msg, err := s.converter.Serialize(ctx, record, s.contentType)
	if err != nil {
		return err
	}

	return s.output.Send(ctx, msg)
}

// Listener receives the records a Sink decoded
type Listener func(ctx context.Context, record Record) error

// Sink deserializes messages into its reader type and hands them to a listener
type Sink struct {
	converter  *Converter
	readerType string
	listener   Listener
}

// NewSink returns a sink reading records as readerType
func NewSink(converter *Converter, readerType string, listener Listener) *Sink {
	return &Sink{converter: converter, readerType: readerType, listener: listener}
}

// Receive decodes a single message and calls the listener
func (s *Sink) Receive(ctx context.Context, msg Message) error {
	record, err := s.converter.Deserialize(ctx, msg, s.readerType)
	if err != nil {
		return err
	}

	return s.listener(ctx, record)
}

// Consume receives messages from the channel until ctx is done or a message fails
func (s *Sink) Consume(ctx context.Context, input *Channel) error {
	for {
		msg, err := input.Poll(ctx)
		if err != nil {
			return err
		}

		if err := s.Receive(ctx, msg); err != nil {
			return err
		}
	}
}
