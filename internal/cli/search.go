// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across session transcripts",
	Long: `Search every session transcript of the active backend.

Queries use FTS5 syntax: bare words are stemmed (searching "hike" matches
"hiking"), phrases go in double quotes, and terms can be combined with AND,
OR and NOT.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.index == nil {
			return fmt.Errorf("search index unavailable")
		}
		// First use builds the index; afterwards the save hook and watcher
		// keep it current.
		if n, err := a.index.SessionCount(); err == nil && n == 0 {
			if err := a.index.ReindexAll(); err != nil {
				return err
			}
		}

		query := strings.Join(args, " ")
		matches, err := a.index.Search(query, searchLimit)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println(infoStyle.Render("[No matches]"))
			return nil
		}

		for _, m := range matches {
			fmt.Printf("%s %s %s\n",
				commandStyle.Render(m.Session),
				infoStyle.Render("["+m.Role+" @ "+m.Timestamp+"]"),
				m.Snippet)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum number of matches")
	rootCmd.AddCommand(searchCmd)
}
