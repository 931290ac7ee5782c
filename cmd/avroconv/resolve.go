/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"github.com/spf13/cobra"
	"github.com/tryfix/avroconverter"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `resolve <content-type>`,
		Short: `Print the subject and version a content type resolves to`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := avroconverter.NewContentTypeResolver(nil).Resolve(args[0])
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), map[string]any{
				`subject`: res.Subject,
				`version`: res.Version.String(),
				`dynamic`: res.Dynamic(),
			})
		},
	}
}
