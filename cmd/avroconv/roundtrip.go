/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"encoding/hex"
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/tryfix/avroconverter"
	"github.com/tryfix/errors"
)

type roundTripFlags struct {
	writer      string
	reader      string
	contentType string
	values      string
}

func newRoundTripCmd(root *rootFlags) *cobra.Command {
	flags := &roundTripFlags{}

	cmd := &cobra.Command{
		Use:   `roundtrip`,
		Short: `Serialize a record as the writer type and deserialize it as the reader type`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := root.load()
			if err != nil {
				return err
			}

			types, err := conf.TypeTable()
			if err != nil {
				return err
			}

			values := map[string]any{}
			if err := json.Unmarshal([]byte(flags.values), &values); err != nil {
				return errors.WithPrevious(err, `--values must be a JSON object`)
			}

			logger := avroconverter.WithLogger(root.logger())
			converter := avroconverter.NewConverter(conf.NewStore(logger), types, append(conf.Options(), logger)...)

			ctx := cmd.Context()
			msg, err := converter.Serialize(ctx, avroconverter.NewRecord(flags.writer, values), flags.contentType)
			if err != nil {
				return err
			}

			reader := flags.reader
			if reader == `` {
				reader = flags.writer
			}

			record, err := converter.Deserialize(ctx, msg, reader)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), map[string]any{
				`headers`: msg.Headers,
				`payload`: hex.EncodeToString(msg.Payload),
				`record`:  record,
			})
		},
	}

	cmd.Flags().StringVar(&flags.writer, `writer`, ``, `record type to serialize`)
	cmd.Flags().StringVar(&flags.reader, `reader`, ``, `record type to deserialize as, defaults to the writer type`)
	cmd.Flags().StringVar(&flags.contentType, `content-type`, avroconverter.ContentTypeDynamic, `content type to serialize with`)
	cmd.Flags().StringVar(&flags.values, `values`, `{}`, `record values as a JSON object`)
	_ = cmd.MarkFlagRequired(`writer`)

	return cmd
}
