package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/vaizki/ouman2mqtt/examples"
)

// defaultInitPath is the first entry of the config search order.
const defaultInitPath = "ouman2mqtt.yaml"

func initCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "write an example configuration file",
		ArgsUsage: "[path]",
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				path = defaultInitPath
			}
			return runInit(stdout, path)
		},
	}
}

// runInit writes the example configuration to path. An existing file is
// never overwritten. The file may carry broker credentials, so it is
// created readable by the owner only.
func runInit(w io.Writer, path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "%s already exists, leaving it alone\n", path)
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, examples.ConfigYAML, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(w, "wrote %s\n", path)
	fmt.Fprintln(w, "Set ouman.url and mqtt.broker, then run ouman2mqtt.")
	return nil
}
