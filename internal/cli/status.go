// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend, session and storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println(headerStyle.Render("parley status"))
		fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))

		fmt.Printf("  %s %s (%s)\n",
			infoStyle.Render("Backend:"), a.provider.Name(), a.cfg.ActiveURL())

		// Reachability and model listing are minor probes: admitted through
		// the gate so they never race a streaming exchange on the backend.
		if err := a.engine.Gate(a.provider.Name()).Wait(ctx); err != nil {
			fmt.Printf("  %s %s\n", infoStyle.Render("Reachable:"), warningStyle.Render("busy, skipped"))
		} else {
			if a.provider.Available(ctx) {
				fmt.Printf("  %s %s\n", infoStyle.Render("Reachable:"), commandStyle.Render("yes"))
			} else {
				fmt.Printf("  %s %s\n", infoStyle.Render("Reachable:"), errorStyle.Render("no"))
			}
			if lister, ok := a.provider.(provider.ModelLister); ok {
				if models, err := lister.ListModels(ctx); err == nil {
					fmt.Printf("  %s %d installed\n", infoStyle.Render("Models:"), len(models))
				}
			}
			if loader, ok := a.provider.(modelLoader); ok {
				if loaded, err := loader.LoadedModels(ctx); err == nil && len(loaded) > 0 {
					fmt.Printf("  %s %s\n", infoStyle.Render("Loaded:"), strings.Join(loaded, ", "))
				}
			}
			if n := transcriptTokens(ctx, a.provider, a.cfg.ActiveModel(), a.orch.Turns()); n > 0 {
				fmt.Printf("  %s ~%d tokens\n", infoStyle.Render("Transcript:"), n)
			}
		}
		fmt.Printf("  %s %s\n", infoStyle.Render("Model:"), a.cfg.ActiveModel())

		names, err := a.store.List()
		if err != nil {
			return err
		}
		var logBytes int64
		for _, name := range names {
			logBytes += a.store.LogSize(name)
		}
		fmt.Printf("  %s %d (%s logs, %s audio)\n",
			infoStyle.Render("Sessions:"), len(names),
			util.FormatSize(logBytes),
			util.FormatSize(a.store.TotalAudioSize()))
		fmt.Printf("  %s %s\n", infoStyle.Render("Active:"), a.orch.Current())
		fmt.Printf("  %s %s\n", infoStyle.Render("Exchange:"), a.orch.Status())

		if a.index != nil {
			if n, err := a.index.SessionCount(); err == nil {
				fmt.Printf("  %s %d sessions indexed\n", infoStyle.Render("Search:"), n)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// modelLoader is the optional residency probe some backends offer.
type modelLoader interface {
	LoadedModels(ctx context.Context) ([]string, error)
}

// transcriptTokens reports the token footprint of a turn list, asking the
// backend's tokenizer when it has one and estimating at length/4 otherwise.
func transcriptTokens(ctx context.Context, p provider.Provider, model string, turns []model.Turn) int {
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(turn.Content)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return 0
	}
	if tok, ok := p.(provider.Tokenizer); ok {
		if n, err := tok.CountTokens(ctx, model, b.String()); err == nil {
			return n
		}
	}
	return (b.Len() + 3) / 4
}
