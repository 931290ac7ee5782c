/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tryfix/avroconverter"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

type rootFlags struct {
	config  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           `avroconv`,
		Short:         `Inspect avro content types, generated schemas and message round trips`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.config, `config`, `c`, ``, `path to the YAML config holding registry settings and record types`)
	cmd.PersistentFlags().BoolVarP(&flags.verbose, `verbose`, `v`, false, `log converter activity`)

	cmd.AddCommand(
		newResolveCmd(),
		newSchemaCmd(flags),
		newRoundTripCmd(flags),
	)

	return cmd
}

func (f *rootFlags) load() (avroconverter.Config, error) {
	if f.config == `` {
		return avroconverter.Config{}, errors.New(`--config is required`)
	}

	return avroconverter.LoadConfig(f.config)
}

func (f *rootFlags) logger() log.Logger {
	if !f.verbose {
		return log.NewNoopLogger()
	}

	return log.NewLog().Log(log.WithLevel(log.DEBUG), log.WithColors(false))
}

func writeJSON(w io.Writer, v any) error {
	byt, err := json.MarshalIndent(v, ``, `  `)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(byt))
	return err
}
