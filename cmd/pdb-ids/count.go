package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the total number of entries the search reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, cleanup, err := a.newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			total, err := cl.Count(cmd.Context())
			if err != nil {
				return err
			}
			if total < 0 {
				return fmt.Errorf("server did not report a total count")
			}
			fmt.Fprintln(a.stdout, total)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}
