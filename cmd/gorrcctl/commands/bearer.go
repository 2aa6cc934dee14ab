package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gorrc/internal/server"
)

// errQciRequired is returned when bearer setup is invoked without --qci.
var errQciRequired = errors.New("--qci flag is required")

func bearerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bearer",
		Short: "Set up and release data bearers",
	}

	cmd.AddCommand(bearerSetupCmd())
	cmd.AddCommand(bearerReleaseCmd())

	return cmd
}

// --- bearer setup ---

func bearerSetupCmd() *cobra.Command {
	var (
		qci      uint8
		erabID   uint8
		teid     uint32
		endpoint string
	)

	cmd := &cobra.Command{
		Use:   "setup <cell> <rnti>",
		Short: "Request a data bearer for an E-RAB",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if qci == 0 {
				return errQciRequired
			}
			cellID, rnti, err := parseAddress(args)
			if err != nil {
				return err
			}

			drb, err := client.SetupBearer(context.Background(), server.BearerRequest{
				CellID:   cellID,
				Rnti:     rnti,
				Qci:      qci,
				ErabID:   erabID,
				Teid:     teid,
				Endpoint: endpoint,
			})
			if err != nil {
				return err
			}

			fmt.Printf("E-RAB %d mapped to DRB %d.\n", erabID, drb)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.Uint8Var(&qci, "qci", 0, "QoS class identifier 1..9 (required)")
	flags.Uint8Var(&erabID, "erab", 5, "E-RAB identifier")
	flags.Uint32Var(&teid, "teid", 0, "uplink S1-U tunnel identifier at the gateway")
	flags.StringVar(&endpoint, "endpoint", "", "uplink S1-U gateway address")

	return cmd
}

// --- bearer release ---

func bearerReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <cell> <rnti> <drb>",
		Short: "Release a data bearer",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			cellID, rnti, err := parseAddress(args)
			if err != nil {
				return err
			}
			drb, err := parseUint8("drb", args[2])
			if err != nil {
				return err
			}

			if err := client.ReleaseBearer(context.Background(), cellID, rnti, drb); err != nil {
				return err
			}

			fmt.Printf("DRB %d of context %d/%d released.\n", drb, cellID, rnti)

			return nil
		},
	}
}
