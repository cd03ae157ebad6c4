package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/audit"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit trail",
	Long: `View the audit trail of orchestration requests.

Every tunnel and device modification request is recorded with the
requesting user, the affected device or tunnel, the jobs queued, and
the outcome.

Examples:
  fwmanage -o acme audit list --operation tunnel-create
  fwmanage -o acme audit list --last 24h
  fwmanage -o acme audit list --failures`,
}

var (
	auditDevice    string
	auditUser      string
	auditOperation string
	auditLast      string
	auditLimit     int
	auditFailures  bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			Org:         orgID,
			Device:      auditDevice,
			User:        auditUser,
			Operation:   auditOperation,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}

		if auditLast != "" {
			duration, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		events, err := audit.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if jsonOut {
			return printJSON(events)
		}

		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		tbl := cli.NewTable("TIMESTAMP", "USER", "OPERATION", "DEVICE", "TUNNEL", "STATUS")
		for _, event := range events {
			status := cli.Green("ok")
			if !event.Success {
				status = cli.Red("failed: " + event.Error)
			}
			tbl.Row(
				event.Timestamp.Format("2006-01-02 15:04:05"),
				event.User,
				event.Operation,
				event.Device,
				event.TunnelID,
				status,
			)
		}
		tbl.Flush()
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditDevice, "device", "", "Filter by device")
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user")
	auditListCmd.Flags().StringVar(&auditOperation, "operation", "", "Filter by operation")
	auditListCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g. 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditListCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed requests")

	auditCmd.AddCommand(auditListCmd)
}
