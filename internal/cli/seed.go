package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mrlokans/circulation/internal/config"
	"github.com/mrlokans/circulation/internal/database"
	"github.com/mrlokans/circulation/internal/entities"
	"github.com/mrlokans/circulation/internal/logging"
)

// SeedCommand creates the schema and inserts sample circulation data.
type SeedCommand struct {
	DatabasePath string
	Today        string

	Out io.Writer
}

func NewSeedCommand() *SeedCommand {
	return &SeedCommand{Out: os.Stdout}
}

func (cmd *SeedCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)

	fs.StringVar(&cmd.DatabasePath, "db", envOr("DATABASE_PATH", config.DefaultDatabasePath), "Path to the database file")
	fs.StringVar(&cmd.Today, "today", "", "Date the sample loan is aged from, as YYYY-MM-DD (default: today)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s seed [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Create the schema and, when the database has no books, add two books,\n")
		fmt.Fprintf(os.Stderr, "two readers and one loan that fell due ten days ago.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

func (cmd *SeedCommand) Run() error {
	today, err := parseDay(cmd.Today)
	if err != nil {
		return err
	}

	db, err := database.NewDatabase(cmd.DatabasePath, logging.New("seed", "warn", "text"))
	if err != nil {
		return err
	}
	defer db.Close()

	seeded, err := db.SeedMockData(today)
	if err != nil {
		return err
	}

	if !seeded {
		fmt.Fprintf(cmd.Out, "Database %s already has books, nothing seeded.\n", cmd.DatabasePath)
		return nil
	}
	fmt.Fprintf(cmd.Out, "Seeded %s: 2 books, 2 readers, 1 loan due %s.\n",
		cmd.DatabasePath, entities.FormatDate(today.Add(-database.OverdueSeedAge)))
	return nil
}

// parseDay parses a YYYY-MM-DD flag in local time. Empty means now.
func parseDay(raw string) (time.Time, error) {
	if raw == "" {
		return nowFunc(), nil
	}
	day, err := time.ParseInLocation(entities.DateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return day, nil
}

// nowFunc is replaced in tests.
var nowFunc = time.Now

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
