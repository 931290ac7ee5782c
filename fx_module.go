/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tryfix/log"
	"go.uber.org/fx"
)

// FXModule provides a single Store, TypeTable and Converter built from a Config. Producers and consumers of the
// same application receive the same Store instance.
//
//	app := fx.New(
//	    avroconverter.FXModule,
//	    fx.Provide(func() avroconverter.Config { return conf }),
//	    fx.Invoke(func(c *avroconverter.Converter) { ... }),
//	)
var FXModule = fx.Module(`avroconverter`,
	fx.Provide(
		NewStoreWithDI,
		NewTypeTableWithDI,
		NewConverterWithDI,
	),
	fx.Invoke(RegisterStoreLifecycle),
)

// Params groups the dependencies of the provided components
type Params struct {
	fx.In

	Config     Config
	Logger     log.Logger            `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// NewStoreWithDI returns the shared store of the application
func NewStoreWithDI(p Params) Store {
	return p.Config.NewStore(diOptions(p.Logger, p.Registerer)...)
}

// NewTypeTableWithDI returns the configured type table
func NewTypeTableWithDI(p Params) (*TypeTable, error) {
	return p.Config.TypeTable()
}

// ConverterParams groups the dependencies of a converter
type ConverterParams struct {
	fx.In

	Config     Config
	Store      Store
	Types      *TypeTable
	Logger     log.Logger            `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// NewConverterWithDI returns a converter on the shared store
func NewConverterWithDI(p ConverterParams) *Converter {
	return NewConverter(p.Store, p.Types, append(p.Config.Options(), diOptions(p.Logger, p.Registerer)...)...)
}

func diOptions(logger log.Logger, registerer prometheus.Registerer) []Option {
	var opts []Option
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	if registerer != nil {
		opts = append(opts, WithMetrics(registerer))
	}

	return opts
}

// LifecycleParams groups the dependencies of the store lifecycle
type LifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	Store     Store
}

// RegisterStoreLifecycle starts the background sync of a remote store and prints a memory store on shutdown
func RegisterStoreLifecycle(p LifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if remote, ok := p.Store.(*RemoteStore); ok && p.Config.Registry.SyncInterval > 0 {
				remote.Sync(ctx, p.Config.Registry.SyncInterval)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			if memory, ok := p.Store.(*MemoryStore); ok {
				memory.Print()
			}
			return nil
		},
	})
}
