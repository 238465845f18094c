package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexus-run/nexus-core/internal/daemon"
)

func buildDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage autohands as a background service",
	}
	cmd.AddCommand(
		buildDaemonStartCmd(),
		buildDaemonStopCmd(),
		buildDaemonRestartCmd(),
		buildDaemonStatusCmd(),
		buildDaemonInstallCmd(),
		buildDaemonUninstallCmd(),
		buildDaemonLogsCmd(),
	)
	return cmd
}

func currentServiceManager() (daemon.ServiceManager, error) {
	mgr := daemon.GetServiceManager()
	if mgr == nil {
		return nil, fmt.Errorf("no service manager is available for this platform")
	}
	return mgr, nil
}

func serviceEnv() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, found := strings.Cut(kv, "=")
		if found {
			env[key] = value
		}
	}
	return env
}

func buildDaemonInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install and start the background service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := currentServiceManager()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable path: %w", err)
			}
			result, err := mgr.Install(daemon.InstallOptions{
				Env:              serviceEnv(),
				ProgramArguments: []string{exe, "run"},
				Description:      "autohands agent runtime",
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %s at %s\n", mgr.Label(), result.Path)
			return nil
		},
	}
}

func buildDaemonUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the background service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := currentServiceManager()
			if err != nil {
				return err
			}
			return mgr.Uninstall(serviceEnv())
		},
	}
}

func buildDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the installed background service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := currentServiceManager()
			if err != nil {
				return err
			}
			installed, err := mgr.IsInstalled(serviceEnv())
			if err != nil {
				return err
			}
			if !installed {
				return fmt.Errorf("service is not installed; run 'autohands daemon install' first")
			}
			return mgr.Restart(serviceEnv())
		},
	}
}

func buildDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := currentServiceManager()
			if err != nil {
				return err
			}
			return mgr.Stop(serviceEnv())
		},
	}
}

func buildDaemonRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the background service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := currentServiceManager()
			if err != nil {
				return err
			}
			return mgr.Restart(serviceEnv())
		},
	}
}

func buildDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the background service's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := currentServiceManager()
			if err != nil {
				return err
			}
			rt, err := mgr.Runtime(serviceEnv())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s (pid %d)\n", rt.Status, rt.PID)
			if rt.Detail != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "detail: %s\n", rt.Detail)
			}
			return nil
		},
	}
}

func buildDaemonLogsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the background service's most recent log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv("AUTOHANDS_STATE_DIR")
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				path = home + "/.autohands"
			}
			logPath := path + "/debug"
			fmt.Fprintf(cmd.OutOrStdout(), "reading logs from %s (last %d lines)\n", logPath, lines)
			return tailDir(cmd, logPath, lines)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of trailing log lines to print")
	return cmd
}
