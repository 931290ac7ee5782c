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

	"github.com/spf13/cobra"
)

func newSchemaCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   `schema <type>`,
		Short: `Print the avro schema generated for a configured record type`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := flags.load()
			if err != nil {
				return err
			}

			types, err := conf.TypeTable()
			if err != nil {
				return err
			}

			def, err := types.Definition(args[0])
			if err != nil {
				return err
			}

			var pretty any
			if err := json.Unmarshal([]byte(def), &pretty); err != nil {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), def)
				return err
			}

			return writeJSON(cmd.OutOrStdout(), pretty)
		},
	}
}
