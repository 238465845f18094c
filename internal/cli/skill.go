package cli

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexus-run/nexus-core/internal/skills"
)

func workspaceSkillsDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "skills"
	}
	return filepath.Join(wd, "skills")
}

func loadSkillManager() (*skills.Manager, error) {
	return skills.NewManager(&skills.SkillsConfig{}, workspaceSkillsDir(), nil)
}

func buildSkillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "List, inspect, and scaffold skills",
	}
	cmd.AddCommand(
		buildSkillListCmd(),
		buildSkillInfoCmd(),
		buildSkillReloadCmd(),
		buildSkillPackCmd(),
		buildSkillInstallCmd(),
		buildSkillNewCmd(),
	)
	return cmd
}

func buildSkillListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadSkillManager()
			if err != nil {
				return err
			}
			entries := mgr.ListEligible()
			if all {
				entries = mgr.ListAll()
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no skills found")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", e.Name, e.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include ineligible skills")
	return cmd
}

func buildSkillInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show a skill's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadSkillManager()
			if err != nil {
				return err
			}
			entry, ok := mgr.GetSkill(args[0])
			if !ok {
				return fmt.Errorf("skill %q not found", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name: %s\n", entry.Name)
			fmt.Fprintf(out, "description: %s\n", entry.Description)
			fmt.Fprintf(out, "path: %s\n", entry.Path)
			fmt.Fprintf(out, "source: %s\n", entry.Source)
			if entry.Homepage != "" {
				fmt.Fprintf(out, "homepage: %s\n", entry.Homepage)
			}
			reasons := mgr.GetIneligibleReasons()
			if reason, blocked := reasons[entry.Name]; blocked {
				fmt.Fprintf(out, "ineligible: %s\n", reason)
			}
			return nil
		},
	}
}

func buildSkillReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-scan skill directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadSkillManager()
			if err != nil {
				return fmt.Errorf("reload skills: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reloaded %d skills (%d eligible)\n", len(mgr.ListAll()), len(mgr.ListEligible()))
			return nil
		},
	}
}

func buildSkillPackCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pack <name>",
		Short: "Package a skill directory into a distributable zip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadSkillManager()
			if err != nil {
				return err
			}
			entry, ok := mgr.GetSkill(args[0])
			if !ok {
				return fmt.Errorf("skill %q not found", args[0])
			}
			if output == "" {
				output = entry.Name + ".zip"
			}
			return packDirectory(entry.Path, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output zip path (default: <name>.zip)")
	return cmd
}

func packDirectory(dir, output string) error {
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
}

func buildSkillInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <zip-or-dir>",
		Short: "Install a packed skill into the workspace skills directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			destRoot := workspaceSkillsDir()
			if strings.HasSuffix(src, ".zip") {
				return installSkillZip(src, destRoot)
			}
			return fmt.Errorf("install only supports .zip packages; got %q", src)
		},
	}
}

func installSkillZip(src, destRoot string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open package: %w", err)
	}
	defer r.Close()

	name := strings.TrimSuffix(filepath.Base(src), ".zip")
	destDir := filepath.Join(destRoot, name)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	for _, file := range r.File {
		destPath := filepath.Join(destDir, file.Name)
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		if err := os.WriteFile(destPath, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func buildSkillNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <name>",
		Short: "Scaffold a new skill directory with a SKILL.md template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dir := filepath.Join(workspaceSkillsDir(), name)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			content := fmt.Sprintf("---\nname: %s\ndescription: TODO describe what this skill does and when to use it\n---\n\n# %s\n", name, name)
			path := filepath.Join(dir, "SKILL.md")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
			return nil
		},
	}
}
