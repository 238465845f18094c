// Package cli builds the autohands command tree: run the runtime in
// the foreground, manage it as a background service, and inspect or
// scaffold skills.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// BuildInfo carries version metadata populated by the binary's
// ldflags, the same convention the teacher's own CLI uses.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

var configPath string

// NewRootCmd builds the root "autohands" command with every subcommand
// attached.
func NewRootCmd(info BuildInfo) *cobra.Command {
	root := &cobra.Command{
		Use:   "autohands",
		Short: "autohands - an autonomous agent runtime",
		Long: `autohands drives an LLM agent loop against messaging channels and
scheduled prompts, with pluggable providers, checkpointing, and
sub-agent workflows.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default: none; built-in defaults apply)")

	root.AddCommand(
		buildRunCmd(),
		buildDaemonCmd(),
		buildSkillCmd(),
	)
	return root
}
