package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newWatermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect or reset the stored watermark",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the last identifier recorded by a load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			wm, err := a.service.Watermark(cmd.Context())
			if err != nil {
				return err
			}
			if wm == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no watermark recorded; the next incremental load fetches everything")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "last ID: %d\n", wm.ID)
			if !wm.UpdatedAt.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "updated: %s\n", wm.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <id>",
		Short: "Overwrite the watermark, e.g. to replay features above an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid identifier %q: %w", args[0], err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.service.SetWatermark(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "last ID: %d\n", id)
			return nil
		},
	})

	return cmd
}
