//go:build !windows

// Command acpclient demonstrates a multi-turn conversation against a
// kiro-cli acp agent.
//
// Run via:
//
//	go run ./cmd/acpclient --binary kiro-cli
//	go run ./cmd/acpclient --binary kiro-cli --edits
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arkveil/acpclient"
)

const disposeTimeout = 5 * time.Second

func main() {
	binary := flag.String("binary", "kiro-cli", "agent binary to spawn")
	args := flag.String("args", "acp", "comma-separated args passed to the binary")
	cwd := flag.String("cwd", "", "working directory handed to the agent (default: current directory)")
	edits := flag.Bool("edits", false, "allow the agent to perform edits without manual review")
	flag.Parse()

	if err := run(*binary, *args, *cwd, *edits); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(binary, argsStr, cwd string, edits bool) error {
	cfg := acpclient.DefaultConfig()
	cfg.Agent.Binary = binary
	if argsStr != "" {
		cfg.Agent.Args = strings.Split(argsStr, ",")
	}
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		cwd = wd
	}
	cfg.Agent.CWD = cwd
	cfg.Permission.EditsAllowed = edits

	client, err := acpclient.New(cfg)
	if err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
		defer cancel()
		_ = client.Dispose(stopCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := client.TestConnection(ctx)
	if !status.OK {
		return fmt.Errorf("test_connection: %s", status.Error)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("acpclient interactive (type 'exit' to quit)")
	return repl(ctx, client, scanner)
}

func repl(ctx context.Context, client *acpclient.Client, scanner *bufio.Scanner) error {
	for {
		fmt.Print("\nyou> ")
		if !scanner.Scan() {
			break // EOF or Ctrl+D
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := turn(ctx, client, line); err != nil {
			return err
		}
	}
	fmt.Println("\nbye")
	return nil
}

// turn sends one prompt and prints its event stream as it arrives.
func turn(ctx context.Context, client *acpclient.Client, message string) error {
	events, err := client.ChatStream(ctx, acpclient.PromptRequest{
		Messages: []acpclient.ChatMessage{{Role: "user", Content: message}},
	})
	if err != nil {
		return fmt.Errorf("chat_stream: %w", err)
	}

	fmt.Print("\nagent> ")
	for ev := range events {
		switch ev.Kind {
		case acpclient.EventToken:
			fmt.Print(ev.Text)
		case acpclient.EventToolCall:
			fmt.Printf("\n[tool: %s %s]\n", ev.Tool.Title, ev.Tool.Status)
		case acpclient.EventToolCallUpdate:
			fmt.Printf("\n[tool: %s -> %s]\n", ev.Tool.Title, ev.Tool.Status)
		case acpclient.EventToolResult:
			fmt.Printf("\n[tool done: %s]\n", ev.Tool.Title)
		case acpclient.EventContextUsage:
			fmt.Printf("\n[context usage: %.1f%%]\n", ev.Percentage)
		case acpclient.EventCompaction:
			fmt.Printf("\n[compacting: %v]\n", ev.Compacting)
		case acpclient.EventError:
			return fmt.Errorf("turn failed: %s", ev.ErrorText)
		case acpclient.EventDone:
			fmt.Println()
		}
	}
	return nil
}
