package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/cli"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

var deviceModifyFile string

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Device operations",
}

var deviceShowCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Show a device document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		st, err := connectStore()
		if err != nil {
			return err
		}
		defer st.Close()

		d, err := st.GetDevice(context.Background(), orgID, args[0])
		if err != nil {
			return err
		}
		return printJSON(d)
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the organization's devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		st, err := connectStore()
		if err != nil {
			return err
		}
		defer st.Close()

		devices, err := st.ListDevices(context.Background(), orgID)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(devices)
		}

		tbl := cli.NewTable("ID", "NAME", "AGENT", "STATE", "INTERFACES")
		for _, d := range devices {
			tbl.Row(d.ID, d.Name, d.Versions.Agent, deviceState(d), fmt.Sprintf("%d", len(d.Interfaces)))
		}
		tbl.Flush()
		return nil
	},
}

// deviceState renders approval and connectivity in one cell.
func deviceState(d *model.Device) string {
	switch {
	case !d.IsApproved:
		return cli.Yellow("unapproved")
	case !d.IsConnected:
		return cli.Red("disconnected")
	case d.PendingDevModification:
		return cli.Yellow("modifying")
	default:
		return cli.Green("connected")
	}
}

var deviceModifyCmd = &cobra.Command{
	Use:   "modify <device-id>",
	Short: "Apply a desired device document",
	Long: `Apply a desired device document from a JSON file.

The desired document is validated as a whole; any violation rejects the
entire modification. Accepted changes are persisted and, where they are
device-visible, queued to the device as one modify job.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		data, err := os.ReadFile(deviceModifyFile)
		if err != nil {
			return err
		}
		desired := &model.Device{}
		if err := json.Unmarshal(data, desired); err != nil {
			return fmt.Errorf("parsing %s: %w", deviceModifyFile, err)
		}

		svc, st, err := newService()
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := svc.RequestDeviceModify(context.Background(), orgID, userName, args[0], desired)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	deviceModifyCmd.Flags().StringVarP(&deviceModifyFile, "file", "f", "", "Desired device document (JSON)")
	_ = deviceModifyCmd.MarkFlagRequired("file")

	deviceCmd.AddCommand(deviceShowCmd)
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceModifyCmd)
}
