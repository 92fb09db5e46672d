// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Command: chat (also the default when parley runs without a subcommand)
//
// Interactive commands (during chat):
//   /help, /h           Show available commands
//   /new [name]         Start a fresh session (or reset the current one)
//   /switch <name>      Switch to another session
//   /sessions           List sessions for this backend
//   /rename <old> <new> Rename a session
//   /facts              Show remembered personal facts
//   /stop               Stop the current generation
//   /status             Show session and backend status
//   /export [format]    Export the current session (markdown, json, yaml)
//   /quit, /q           Exit chat
//   Ctrl+C              Stop the current generation
//   Ctrl+D              Exit chat
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/engine"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/util"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// replInput provides input history and line editing for the chat REPL.
type replInput struct {
	line        *liner.State
	historyFile string
}

func newReplInput(dataDir string) *replInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	in := &replInput{
		line:        line,
		historyFile: filepath.Join(dataDir, "chat_history"),
	}
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

// read reads a line of input, recording non-empty lines in history.
func (in *replInput) read(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

func (in *replInput) close() {
	if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
		in.line.WriteHistory(f)
		f.Close()
	}
	in.line.Close()
}

// =============================================================================
// CHAT REPL
// =============================================================================

// activeExchange tracks the in-flight exchange so the SIGINT handler can stop
// it without racing the REPL loop.
type activeExchange struct {
	mu sync.Mutex
	x  *engine.Exchange
}

func (a *activeExchange) set(x *engine.Exchange) {
	a.mu.Lock()
	a.x = x
	a.mu.Unlock()
}

func (a *activeExchange) stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.x == nil {
		return false
	}
	a.x.Stop()
	return true
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	dataDir, err := a.cfg.ResolveDataDir()
	if err != nil {
		return err
	}
	input := newReplInput(dataDir)
	defer input.close()

	printWelcome(a)

	// Ctrl+C during streaming stops the generation; at the prompt liner
	// surfaces it as ErrPromptAborted.
	active := &activeExchange{}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if active.stop() {
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Stopping]"))
			}
		}
	}()

	for {
		line, err := input.read(promptStyle.Render(a.orch.Current() + "> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF (Ctrl+D) both exit.
			fmt.Println()
			fmt.Println(infoStyle.Render("Goodbye!"))
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cont, err := a.handleSlashCommand(active, line)
			if err != nil {
				printError(err)
			}
			if !cont {
				fmt.Println(infoStyle.Render("Goodbye!"))
				return nil
			}
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			fmt.Println(infoStyle.Render("Goodbye!"))
			return nil
		}

		if err := a.processMessage(active, line); err != nil {
			printError(err)
		}
	}
}

// processMessage runs one exchange and streams its output.
func (a *app) processMessage(active *activeExchange, text string) error {
	x, err := a.orch.Send(context.Background(), text)
	if err != nil {
		if provider.IsBusy(err) {
			fmt.Println(warningStyle.Render("[Busy] a response is still streaming, try again shortly"))
			return nil
		}
		return err
	}
	active.set(x)
	defer active.set(nil)

	useMarkdown := isStdoutTTY()
	fmt.Println()

	// Live output goes through the word-boundary coalescer so words are not
	// split mid-flush. Piped output gets raw fragments instead.
	coalescer := engine.NewCoalescer(func(s string) { fmt.Print(s) }, 150*time.Millisecond)
	for chunk := range x.Chunks() {
		if !useMarkdown {
			fmt.Print(chunk)
			continue
		}
		coalescer.Add(chunk)
	}
	coalescer.Flush()

	final, usage, err := x.Wait()
	switch {
	case errors.Is(err, engine.ErrStopped):
		fmt.Println()
		fmt.Println(warningStyle.Render("[Stopped]"))
		return nil
	case err != nil:
		fmt.Println()
		return err
	}

	fmt.Println()
	if useMarkdown {
		// Re-render the whole turn so code blocks and headings format
		// correctly; the raw stream above has no markdown layout.
		fmt.Print(renderMarkdown(final))
	}
	fmt.Println()

	if stats := x.Stats(); stats != nil {
		line := stats.Format()
		if usage != nil && usage.Estimated {
			line += " (est.)"
		}
		fmt.Fprintln(os.Stderr, infoStyle.Render("[Stats] "+line))
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (shouldContinue, error) where shouldContinue=false means exit.
func (a *app) handleSlashCommand(active *activeExchange, cmdLine string) (bool, error) {
	parts := strings.Fields(cmdLine)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		printChatHelp()
		return true, nil

	case "/new":
		if len(args) == 0 {
			if err := a.orch.ResetCurrent(); err != nil {
				return true, err
			}
			fmt.Println(commandStyle.Render("[Session reset]"))
			return true, nil
		}
		if err := a.orch.NewSession(args[0]); err != nil {
			return true, err
		}
		fmt.Printf("%s %s\n", commandStyle.Render("[New session]"), args[0])
		return true, nil

	case "/switch", "/s":
		if len(args) != 1 {
			return true, fmt.Errorf("usage: /switch <name>")
		}
		if err := a.orch.Switch(args[0]); err != nil {
			return true, err
		}
		fmt.Printf("%s %s\n", commandStyle.Render("[Switched]"), args[0])
		return true, nil

	case "/sessions", "/ls":
		return true, a.printSessions()

	case "/rename":
		if len(args) != 2 {
			return true, fmt.Errorf("usage: /rename <old> <new>")
		}
		if !a.orch.Rename(args[0], args[1]) {
			return true, fmt.Errorf("rename failed: source missing or target exists")
		}
		fmt.Printf("%s %s -> %s\n", commandStyle.Render("[Renamed]"), args[0], args[1])
		return true, nil

	case "/facts":
		a.printFacts()
		return true, nil

	case "/stop":
		if active.stop() {
			fmt.Println(warningStyle.Render("[Stopping]"))
		} else {
			fmt.Println(infoStyle.Render("[Nothing generating]"))
		}
		return true, nil

	case "/status":
		a.printChatStatus()
		return true, nil

	case "/export":
		format := "markdown"
		if len(args) > 0 {
			format = args[0]
		}
		path, err := a.exportSession(a.orch.Current(), format, "")
		if err != nil {
			return true, err
		}
		fmt.Printf("%s %s\n", commandStyle.Render("[Exported]"), path)
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// =============================================================================
// DISPLAY
// =============================================================================

func printWelcome(a *app) {
	fmt.Println()
	fmt.Println(headerStyle.Render("parley"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n", infoStyle.Render("Backend:"), commandStyle.Render(a.provider.Name()))
	fmt.Printf("%s %s\n", infoStyle.Render("Model:"), commandStyle.Render(a.cfg.ActiveModel()))
	fmt.Printf("%s %s\n", infoStyle.Render("Session:"), commandStyle.Render(a.orch.Current()))
	fmt.Println()
	fmt.Println(infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

func printChatHelp() {
	fmt.Println()
	fmt.Println(headerStyle.Render("Available Commands"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/new [name]", "Reset current session, or start a named one"},
		{"/switch <name>", "Switch to another session"},
		{"/sessions", "List sessions"},
		{"/rename <a> <b>", "Rename a session"},
		{"/facts", "Show remembered personal facts"},
		{"/stop", "Stop the current generation"},
		{"/status", "Show session and backend status"},
		{"/export [format]", "Export this session (markdown, json, yaml)"},
		{"/quit, /q", "Exit chat"},
	}
	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-17s", c.cmd)),
			infoStyle.Render(c.desc))
	}
	fmt.Println()
	fmt.Println(infoStyle.Render("Tip: Ctrl+C stops the current generation, Ctrl+D exits"))
	fmt.Println()
}

func (a *app) printSessions() error {
	names, err := a.orch.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println(infoStyle.Render("[No sessions yet]"))
		return nil
	}
	current := a.orch.Current()
	for _, name := range names {
		marker := "  "
		display := name
		if name == current {
			marker = commandStyle.Render("* ")
			display = commandStyle.Render(name)
		}
		fmt.Printf("%s%s %s\n", marker, display,
			infoStyle.Render(util.FormatSize(a.store.LogSize(name))))
	}
	return nil
}

func (a *app) printFacts() {
	if a.memory == nil {
		fmt.Println(infoStyle.Render("[Memory is disabled]"))
		return
	}
	facts := a.memory.Facts()
	if facts == "" {
		fmt.Println(infoStyle.Render("[No personal facts remembered yet]"))
		return
	}
	fmt.Println(facts)
}

func (a *app) printChatStatus() {
	fmt.Println()
	fmt.Println(headerStyle.Render("Status"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Printf("  %s %s\n", infoStyle.Render("Backend:"), a.provider.Name())
	fmt.Printf("  %s %s\n", infoStyle.Render("Model:"), a.cfg.ActiveModel())
	fmt.Printf("  %s %s\n", infoStyle.Render("Session:"), a.orch.Current())
	fmt.Printf("  %s %d turns\n", infoStyle.Render("History:"), len(a.orch.Turns()))
	fmt.Printf("  %s %s\n", infoStyle.Render("Exchange:"), a.orch.Status())
	fmt.Println()
}
