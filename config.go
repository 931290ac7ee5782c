/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"fmt"
	"os"
	"time"

	"github.com/tryfix/errors"
	"gopkg.in/yaml.v3"
)

// Config is the file based configuration of a converter and its store
//
//	registry:
//	  url: http://localhost:8081   # empty for an in memory store
//	  timeout: 5s
//	  attempts: 3
//	schema:
//	  avro:
//	    dynamicSchemaGenerationEnabled: true
//	types:
//	  - name: User1
//	    fields:
//	      - {name: name, type: string}
//
// The deprecated stream.schema.avro block is honoured when schema.avro does not set a value.
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Schema   SchemaConfig   `yaml:"schema"`
	Stream   struct {
		Schema SchemaConfig `yaml:"schema"`
	} `yaml:"stream"`
	Types []RecordType `yaml:"types"`
}

// RegistryConfig configures the remote registry
type RegistryConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
	SyncInterval   time.Duration `yaml:"syncInterval"` // zero disables the background sync
}

// SchemaConfig holds the avro converter properties
type SchemaConfig struct {
	Avro AvroConfig `yaml:"avro"`
}

// AvroConfig holds the avro properties
type AvroConfig struct {
	DynamicSchemaGenerationEnabled *bool  `yaml:"dynamicSchemaGenerationEnabled"`
	Framing                        string `yaml:"framing"` // headers (default) or confluent
}

// LoadConfig reads a YAML config file
func LoadConfig(path string) (Config, error) {
	byt, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithPrevious(err, fmt.Sprintf(`cannot read config [%s]`, path))
	}

	return ParseConfig(byt)
}

// ParseConfig parses a YAML config
func ParseConfig(byt []byte) (Config, error) {
	conf := Config{}
	if err := yaml.Unmarshal(byt, &conf); err != nil {
		return Config{}, errors.WithPrevious(err, `cannot parse config`)
	}

	if _, err := conf.framing(); err != nil {
		return Config{}, err
	}

	return conf, nil
}

// DynamicSchemaGeneration returns the effective dynamic schema generation flag
func (c Config) DynamicSchemaGeneration() bool {
	if v := c.Schema.Avro.DynamicSchemaGenerationEnabled; v != nil {
		return *v
	}

	if v := c.Stream.Schema.Avro.DynamicSchemaGenerationEnabled; v != nil {
		return *v
	}

	return false
}

func (c Config) framing() (Framing, error) {
	f := c.Schema.Avro.Framing
	if f == `` {
		f = c.Stream.Schema.Avro.Framing
	}

	switch f {
	case ``, `headers`:
		return FramingHeaders, nil
	case `confluent`:
		return FramingConfluent, nil
	}

	return FramingHeaders, errors.New(fmt.Sprintf(`unknown framing [%s]`, f))
}

// Options returns the options the config sets
func (c Config) Options() []Option {
	framing, _ := c.framing()
	opts := []Option{
		WithDynamicSchemaGeneration(c.DynamicSchemaGeneration()),
		WithFraming(framing),
	}

	if c.Registry.Timeout > 0 {
		opts = append(opts, WithRequestTimeout(c.Registry.Timeout))
	}

	if c.Registry.Attempts > 0 {
		initial, maxBackoff := c.Registry.InitialBackoff, c.Registry.MaxBackoff
		if initial <= 0 {
			initial = defaultInitialBackoff
		}
		if maxBackoff <= 0 {
			maxBackoff = defaultMaxBackoff
		}
		opts = append(opts, WithRetry(c.Registry.Attempts, initial, maxBackoff))
	}

	return opts
}

// TypeTable returns a table of the configured types
func (c Config) TypeTable() (*TypeTable, error) {
	return NewTypeTable(c.Types...)
}

// NewStore returns a RemoteStore when a registry url is configured, a MemoryStore otherwise
func (c Config) NewStore(opts ...Option) Store {
	opts = append(c.Options(), opts...)
	if c.Registry.URL == `` {
		return NewMemoryStore(opts...)
	}

	return NewRemoteStore(c.Registry.URL, opts...)
}
