package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "context",
		Aliases: []string{"ctx"},
		Short:   "Inspect and release terminal contexts",
	}

	cmd.AddCommand(contextListCmd())
	cmd.AddCommand(contextShowCmd())
	cmd.AddCommand(contextReleaseCmd())

	return cmd
}

// --- context list ---

func contextListCmd() *cobra.Command {
	var cellID uint16

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List terminal contexts of every cell, or of one cell with --cell",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			contexts, err := client.ListContexts(context.Background(), cellID)
			if err != nil {
				return err
			}

			out, err := formatContexts(contexts, outputFormat)
			if err != nil {
				return fmt.Errorf("format contexts: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	cmd.Flags().Uint16Var(&cellID, "cell", 0, "only list contexts of this cell")

	return cmd
}

// --- context show ---

func contextShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <cell> <rnti>",
		Short: "Show details of a terminal context",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cellID, rnti, err := parseAddress(args)
			if err != nil {
				return err
			}

			view, err := client.GetContext(context.Background(), cellID, rnti)
			if err != nil {
				return err
			}

			out, err := formatContext(view, outputFormat)
			if err != nil {
				return fmt.Errorf("format context: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- context release ---

func contextReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <cell> <rnti>",
		Short: "Send a connection release and free the context",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cellID, rnti, err := parseAddress(args)
			if err != nil {
				return err
			}

			if err := client.ReleaseContext(context.Background(), cellID, rnti); err != nil {
				return err
			}

			fmt.Printf("Context %d/%d released.\n", cellID, rnti)

			return nil
		},
	}
}

// parseAddress parses the leading <cell> <rnti> arguments.
func parseAddress(args []string) (uint16, uint16, error) {
	cellID, err := parseUint16("cell", args[0])
	if err != nil {
		return 0, 0, err
	}
	rnti, err := parseUint16("rnti", args[1])
	if err != nil {
		return 0, 0, err
	}
	return cellID, rnti, nil
}

func parseUint16(name, s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, s, err)
	}
	return uint16(n), nil
}

func parseUint8(name, s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, s, err)
	}
	return uint8(n), nil
}
