package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func handoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handover <cell> <rnti> <target-cell>",
		Short: "Start an X2 handover of a terminal to a neighbour cell",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			cellID, rnti, err := parseAddress(args)
			if err != nil {
				return err
			}
			target, err := parseUint16("target cell", args[2])
			if err != nil {
				return err
			}

			if err := client.TriggerHandover(context.Background(), cellID, rnti, target); err != nil {
				return err
			}

			fmt.Printf("Handover of %d/%d to cell %d started.\n", cellID, rnti, target)

			return nil
		},
	}
}
