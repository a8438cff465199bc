package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mrlokans/circulation/internal/config"
	"github.com/mrlokans/circulation/internal/database/overdue"
	"github.com/mrlokans/circulation/internal/monitor"
)

// CheckCommand runs a single overdue check on a private read-only connection.
type CheckCommand struct {
	DatabasePath string
	AsOf         string
	List         int
	Timeout      time.Duration

	Out io.Writer
}

func NewCheckCommand() *CheckCommand {
	return &CheckCommand{Out: os.Stdout}
}

func (cmd *CheckCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)

	fs.StringVar(&cmd.DatabasePath, "db", envOr("DATABASE_PATH", config.DefaultDatabasePath), "Path to the database file")
	fs.StringVar(&cmd.AsOf, "date", "", "Check as of this date, YYYY-MM-DD (default: today)")
	fs.IntVar(&cmd.List, "list", 0, "Also print up to N overdue loan IDs")
	fs.DurationVar(&cmd.Timeout, "timeout", 10*time.Second, "Give up after this long")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s check [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Count overdue loans once and print the warning, if any.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s check -db ./library.db\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s check -date 2024-06-01 -list 20\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.List < 0 {
		return fmt.Errorf("-list must not be negative")
	}
	return nil
}

func (cmd *CheckCommand) Run() error {
	asOf, err := parseDay(cmd.AsOf)
	if err != nil {
		return err
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reader, err := overdue.Open(ctx, cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("%w: %w", monitor.ErrConnectionFailed, err)
	}
	defer reader.Close()

	count, err := reader.CountOverdue(ctx, asOf)
	if err != nil {
		return fmt.Errorf("%w: %w", monitor.ErrQueryFailed, err)
	}
	if count == 0 {
		fmt.Fprintln(cmd.Out, "No overdue items.")
		return nil
	}

	fmt.Fprintln(cmd.Out, monitor.Notification{Count: count}.Message())
	if cmd.List > 0 {
		ids, err := reader.OverdueIDs(ctx, asOf, cmd.List)
		if err != nil {
			return fmt.Errorf("%w: %w", monitor.ErrQueryFailed, err)
		}
		for _, id := range ids {
			fmt.Fprintf(cmd.Out, "  loan %d\n", id)
		}
	}
	return nil
}
