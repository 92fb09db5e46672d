// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/export"
)

var (
	exportFormat string
	exportOutDir string
)

var exportCmd = &cobra.Command{
	Use:   "export <session>",
	Short: "Export a session transcript",
	Long: fmt.Sprintf(`Export a session transcript to a shareable file.

Supported formats: %s.
Files are written as <session>_<timestamp>.<ext>.`, strings.Join(export.Formats(), ", ")),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		path, err := a.exportSession(args[0], exportFormat, exportOutDir)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", commandStyle.Render("[Exported]"), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "markdown", "Export format (markdown, json, yaml)")
	exportCmd.Flags().StringVarP(&exportOutDir, "out", "o", "", "Output directory (default <data-dir>/exports)")
	rootCmd.AddCommand(exportCmd)
}

// exportSession renders one session to a file and returns the written path.
// An empty outDir defaults to <data-dir>/exports.
func (a *app) exportSession(name, format, outDir string) (string, error) {
	if !a.store.Exists(name) {
		return "", fmt.Errorf("session %q does not exist", name)
	}
	turns, err := a.store.Load(name)
	if err != nil {
		return "", err
	}

	exporter, err := export.ForFormat(format)
	if err != nil {
		return "", err
	}
	if outDir == "" {
		dataDir, err := a.cfg.ResolveDataDir()
		if err != nil {
			return "", err
		}
		outDir = filepath.Join(dataDir, "exports")
	}

	doc := &export.Document{
		Session: name,
		Backend: a.store.Backend,
		Model:   a.cfg.ActiveModel(),
		Turns:   turns,
	}
	return export.ExportToFile(doc, exporter, outDir)
}
