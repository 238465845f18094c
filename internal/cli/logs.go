package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// tailDir prints the last n lines of the most recently modified regular
// file directly under dir, whatever its name.
func tailDir(cmd *cobra.Command, dir string, n int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read log directory: %w", err)
	}

	var latest os.DirEntry
	var latestMod int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Unix() >= latestMod {
			latestMod = info.ModTime().Unix()
			latest = e
		}
	}
	if latest == nil {
		return fmt.Errorf("no log files found in %s", dir)
	}

	f, err := os.Open(filepath.Join(dir, latest.Name()))
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	start := 0
	if len(lines) > n {
		start = len(lines) - n
	}
	for _, line := range lines[start:] {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
