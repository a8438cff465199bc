package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/mrlokans/circulation/internal/cli"
	"github.com/mrlokans/circulation/internal/config"
	"github.com/mrlokans/circulation/internal/entrypoint"
)

// Version information - set at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

type command interface {
	ParseFlags(args []string) error
	Run() error
}

func main() {
	// A missing .env is fine; real environment variables still apply
	_ = godotenv.Load()

	// If no arguments or "serve" command, run the HTTP server
	if len(os.Args) < 2 || os.Args[1] == "serve" {
		cfg := config.NewConfig()
		entrypoint.Run(cfg, Version)
		return
	}

	name := os.Args[1]
	args := os.Args[2:]

	var cmd command
	switch name {
	case "seed":
		cmd = cli.NewSeedCommand()
	case "check":
		cmd = cli.NewCheckCommand()
	case "borrow":
		cmd = cli.NewBorrowCommand()
	case "return":
		cmd = cli.NewReturnCommand()

	case "version":
		fmt.Printf("circulation %s (%s)\n", Version, Commit)
		return

	case "-h", "--help", "help":
		printUsage()
		return

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.ParseFlags(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the HTTP server and overdue monitor (default if no command given)\n")
	fmt.Fprintf(os.Stderr, "  seed      Create the schema and insert sample books, readers and an overdue loan\n")
	fmt.Fprintf(os.Stderr, "  check     Count overdue loans once and print the warning\n")
	fmt.Fprintf(os.Stderr, "  borrow    Lend a book to a reader\n")
	fmt.Fprintf(os.Stderr, "  return    Mark a loan as returned\n")
	fmt.Fprintf(os.Stderr, "  version   Print version information\n")
	fmt.Fprintf(os.Stderr, "\nUse '%s <command> -h' for help on a specific command.\n", os.Args[0])
}
