/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tryfix/log"
)

// Framing selects where the schema reference travels with a message
type Framing int

const (
	// FramingHeaders keeps the payload plain avro, the reference travels in the content type header
	FramingHeaders Framing = iota
	// FramingConfluent additionally prefixes the payload with the magic byte and the 4 byte schema id
	FramingConfluent
)

const (
	defaultAttempts       = 3
	defaultRequestTimeout = 10 * time.Second
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
)

type options struct {
	logger         log.Logger
	registerer     prometheus.Registerer
	dynamicSchemas bool
	framing        Framing
	attempts       int
	requestTimeout time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	client         RegistryClient
}

func newOptions(opts ...Option) *options {
	options := &options{
		attempts:       defaultAttempts,
		requestTimeout: defaultRequestTimeout,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}

	for _, opt := range opts {
		opt(options)
	}

	if options.logger == nil {
		options.logger = log.NewNoopLogger()
	}

	if options.attempts < 1 {
		options.attempts = 1
	}

	return options
}

// Option is a type to host store and converter configurations
type Option func(*options)

// WithLogger returns a configuration to use the given logger
func WithLogger(logger log.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithMetrics registers the prometheus collectors of the component with the given registerer
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(options *options) {
		options.registerer = registerer
	}
}

// WithDynamicSchemaGeneration enables generating and registering writer schemas from the record types
func WithDynamicSchemaGeneration(enabled bool) Option {
	return func(options *options) {
		options.dynamicSchemas = enabled
	}
}

// WithFraming sets the wire framing of the produced messages
func WithFraming(framing Framing) Option {
	return func(options *options) {
		options.framing = framing
	}
}

// WithRetry sets the number of attempts and the backoff bounds of remote registry calls
func WithRetry(attempts int, initialBackoff, maxBackoff time.Duration) Option {
	return func(options *options) {
		options.attempts = attempts
		options.initialBackoff = initialBackoff
		options.maxBackoff = maxBackoff
	}
}

// WithRequestTimeout bounds every single remote registry call
func WithRequestTimeout(timeout time.Duration) Option {
	return func(options *options) {
		options.requestTimeout = timeout
	}
}

// WithRegistryClient makes a RemoteStore use the given client instead of connecting to the url
func WithRegistryClient(client RegistryClient) Option {
	return func(options *options) {
		options.client = client
	}
}
