package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nugget/hearth/examples"
)

func newInitCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a working directory with a sample config and persona",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(stdout, dir)
		},
	}
}

// runInit writes config.yaml, persona.md and the data directory into
// dir. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Hearth in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	files := []struct {
		name    string
		content []byte
		perm    os.FileMode
	}{
		// The config holds credentials.
		{"config.yaml", examples.ConfigYAML, 0o600},
		{"persona.md", examples.PersonaMD, 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		created, err := writeIfMissing(path, f.content, f.perm)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(w, "  created %s\n", path)
		} else {
			fmt.Fprintf(w, "  %s exists, skipping\n", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set homeassistant.url and the HA_TOKEN and ANTHROPIC_API_KEY variables, then run: hearth serve")
	return nil
}

// writeIfMissing creates path with content unless it already exists.
// It reports whether the file was written.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", path, err)
	}
	return true, nil
}
