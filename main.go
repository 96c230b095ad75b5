package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"siteclone/app"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

// main is the entry point for the application.
// It initializes the core application logic, builds the CLI interface,
// and executes the command provided by the user.
func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "siteclone",
	})

	// Questions are only asked when a person can answer them.
	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())

	// Create the core application object which contains the business logic.
	application := app.New(logger, os.Stdin, os.Stdout, interactive)

	// Build the CLI command structure, injecting the application logic.
	cmd := BuildCLI(application)

	// Interrupts cancel any backup being awaited.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run the CLI, passing command-line arguments.
	if err := cmd.Run(ctx, os.Args); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
