/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/tryfix/avroconverter"
	"github.com/tryfix/log"
)

func main() {
	logger := log.NewLog().Log(log.WithLevel(log.INFO))

	types, err := avroconverter.NewTypeTable(
		avroconverter.RecordType{
			Name: `User1`,
			Fields: []avroconverter.Field{
				{Name: `name`, Type: avroconverter.TypeString},
				{Name: `favoriteColor`, Type: avroconverter.TypeString},
			},
		},
		avroconverter.RecordType{
			Name:    `User2`,
			Aliases: []string{`User1`},
			Fields: []avroconverter.Field{
				{Name: `name`, Type: avroconverter.TypeString},
				{Name: `favoriteColor`, Type: avroconverter.TypeString},
				{Name: `favoritePlace`, Type: avroconverter.TypeString, Default: `NYC`},
			},
		},
	)
	if err != nil {
		log.Fatal(err)
	}

	// one store shared by the producer and the consumer
	store := avroconverter.NewMemoryStore(avroconverter.WithLogger(logger))

	producer := avroconverter.NewConverter(store, types,
		avroconverter.WithLogger(logger),
		avroconverter.WithDynamicSchemaGeneration(true))
	consumer := avroconverter.NewConverter(store, types, avroconverter.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := avroconverter.NewChannel(`users`, 10)
	source := avroconverter.NewSource(producer, channel, avroconverter.ContentTypeDynamic)

	if err := source.Send(ctx, avroconverter.NewRecord(`User1`, map[string]any{
		`name`:          `alice`,
		`favoriteColor`: `red`,
	})); err != nil {
		log.Fatal(err)
	}

	sink := avroconverter.NewSink(consumer, `User2`, func(_ context.Context, record avroconverter.Record) error {
		fmt.Printf("%+v\n", record.Values)
		return nil
	})

	msg, err := channel.Poll(ctx)
	if err != nil {
		log.Fatal(err)
	}

	if err := sink.Receive(ctx, msg); err != nil {
		log.Fatal(err)
	}

	store.Print()
}
