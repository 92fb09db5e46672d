// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/util"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions for the active backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionsList(cmd, args)
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with their sizes",
	RunE:  runSessionsList,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.store.Exists(args[0]) {
			return fmt.Errorf("session %q already exists", args[0])
		}
		if _, err := a.store.EnsureSession(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", commandStyle.Render("[Created]"), args[0])
		return nil
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.orch.Rename(args[0], args[1]) {
			return fmt.Errorf("rename failed: source missing or target exists")
		}
		fmt.Printf("%s %s -> %s\n", commandStyle.Render("[Renamed]"), args[0], args[1])
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a session and all of its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", commandStyle.Render("[Deleted]"), args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsNewCmd, sessionsRenameCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	names, err := a.store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println(infoStyle.Render("[No sessions yet]"))
		return nil
	}

	current := a.orch.Current()
	for _, name := range names {
		turns, err := a.store.Load(name)
		turnCount := "?"
		if err == nil {
			turnCount = fmt.Sprintf("%d", len(turns))
		}
		marker := "  "
		if name == current {
			marker = commandStyle.Render("* ")
		}
		fmt.Printf("%s%-24s %s turns, %s log",
			marker, name, turnCount,
			util.FormatSize(a.store.LogSize(name)))
		if audio := a.store.AudioSize(name); audio > 0 {
			fmt.Printf(", %s audio", util.FormatSize(audio))
		}
		fmt.Println()
	}
	return nil
}
