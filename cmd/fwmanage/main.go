// Fwmanage - SD-WAN tunnel orchestration manager
//
// The manager owns the control-plane state of an SD-WAN overlay: device
// documents, tunnel lifecycle, and the jobs dispatched to device agents.
//
//	fwmanage serve                         # run the manager
//	fwmanage -o <org> tunnel create d1 d2  # mesh devices with tunnels
//	fwmanage -o <org> tunnel delete <id>   # tear a tunnel down
//	fwmanage -o <org> device show <id>     # inspect a device document
//	fwmanage -o <org> device modify <id> -f desired.json
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/audit"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/config"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/version"
)

var (
	configPath string
	orgID      string
	userName   string
	verbose    bool
	jsonOut    bool

	cfg *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "fwmanage",
	Short:             "SD-WAN tunnel orchestration manager",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isVersionOrHelp(cmd) {
			return nil
		}

		var err error
		cfg, err = config.LoadFrom(configPath)
		if err != nil {
			return err
		}

		if verbose {
			_ = util.SetLogLevel("debug")
		} else {
			_ = util.SetLogLevel(cfg.Log.Level)
		}
		if cfg.Log.JSON {
			util.SetJSONFormat()
		}

		if cfg.AuditLog != "" {
			l, err := audit.NewFileLogger(cfg.AuditLog, audit.RotationConfig{
				MaxSize:    10 * 1024 * 1024,
				MaxBackups: 10,
			})
			if err != nil {
				util.Warnf("Audit logging disabled: %v", err)
			} else {
				audit.SetDefaultLogger(l)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/fwmanage/manager.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVarP(&orgID, "org", "o", "", "Organization id")
	rootCmd.PersistentFlags().StringVarP(&userName, "user", "u", "cli", "User recorded on dispatched jobs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "JSON output for list and show commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tunnelCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fwmanage %s\n", version.Info())
	},
}

// requireOrg ensures an organization is selected for org-scoped commands.
func requireOrg() error {
	if orgID == "" {
		return fmt.Errorf("organization required: use -o <org> flag")
	}
	return nil
}

// isVersionOrHelp checks whether cmd (or any ancestor) skips config
// loading.
func isVersionOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version":
			return true
		}
	}
	return false
}
