package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/cli"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/dispatch"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/operations"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/tunnel"
)

var (
	tunnelPathLabel  string
	tunnelEncryption string
	tunnelPeer       string
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Tunnel operations",
}

var tunnelCreateCmd = &cobra.Command{
	Use:   "create <device-id>...",
	Short: "Mesh devices with tunnels (or connect each to a peer)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		svc, st, err := newService()
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := svc.RequestTunnelCreate(context.Background(), orgID, userName, args, operations.TunnelCreateOptions{
			PathLabel:        tunnelPathLabel,
			EncryptionMethod: model.EncryptionMethod(tunnelEncryption),
			Peer:             tunnelPeer,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var tunnelDeleteCmd = &cobra.Command{
	Use:   "delete <tunnel-id>...",
	Short: "Tear tunnels down and release their numbers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		svc, st, err := newService()
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := svc.RequestTunnelDelete(context.Background(), orgID, userName, args)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var tunnelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the organization's tunnels",
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

		tunnels, err := st.ListTunnels(context.Background(), orgID)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(tunnels)
		}

		tbl := cli.NewTable("ID", "NUM", "DEVICE A", "DEVICE B / PEER", "LABEL", "STATE")
		for _, t := range tunnels {
			remote := t.DeviceB
			if t.IsPeer() {
				remote = t.Peer
			}
			tbl.Row(t.ID, fmt.Sprintf("%d", t.Num), t.DeviceA, remote, t.PathLabel, tunnelState(t))
		}
		tbl.Flush()
		return nil
	},
}

// tunnelState renders the lifecycle state of a tunnel document.
func tunnelState(t *model.Tunnel) string {
	switch {
	case !t.IsActive:
		return cli.Yellow("inactive")
	case t.IsPending:
		return cli.Red("pending: " + t.PendingReason)
	default:
		return cli.Green("active")
	}
}

func init() {
	tunnelCreateCmd.Flags().StringVar(&tunnelPathLabel, "path-label", "", "Restrict endpoints to interfaces carrying this label")
	tunnelCreateCmd.Flags().StringVar(&tunnelEncryption, "encryption", string(model.EncryptionPSK), "Encryption method (none|psk|ikev2)")
	tunnelCreateCmd.Flags().StringVar(&tunnelPeer, "peer", "", "Unmanaged peer address (one tunnel per device)")

	tunnelCmd.AddCommand(tunnelCreateCmd)
	tunnelCmd.AddCommand(tunnelDeleteCmd)
	tunnelCmd.AddCommand(tunnelListCmd)
}

// connectStore opens the Redis store configured for this invocation.
func connectStore() (*store.RedisStore, error) {
	st := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := st.Connect(context.Background()); err != nil {
		return nil, err
	}
	return st, nil
}

// newService wires the operations facade over a fresh store connection.
// The caller owns closing the returned store.
func newService() (*operations.Service, *store.RedisStore, error) {
	st, err := connectStore()
	if err != nil {
		return nil, nil, err
	}
	sink := notify.LogSink{}
	d := dispatch.New(st, dispatch.NewRedisQueue(st.Client()), sink)
	svc := operations.NewService(st, tunnel.NewAllocator(st), d, sink)
	return svc, st, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
