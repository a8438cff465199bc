// Command seed_demo creates a demo database with a spread of loans: some
// returned, some current and several overdue by different amounts.
// Usage: go run cmd/seed_demo/main.go [-db path/to/demo.db] [-today YYYY-MM-DD]
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/database"
	"github.com/mrlokans/circulation/internal/database/loans"
	"github.com/mrlokans/circulation/internal/entities"
	"github.com/mrlokans/circulation/internal/logging"
)

const defaultDemoDatabasePath = "./demo/demo.db"

type demoLoan struct {
	book, reader uint
	borrowedAgo  int // days before today
	days         int
	returned     bool
}

var demoLoans = []demoLoan{
	{book: 1, reader: 2, borrowedAgo: 45, days: 30},
	{book: 2, reader: 1, borrowedAgo: 32, days: 30},
	{book: 2, reader: 2, borrowedAgo: 30, days: 30}, // due today, not overdue yet
	{book: 1, reader: 1, borrowedAgo: 5, days: 30},
	{book: 2, reader: 1, borrowedAgo: 60, days: 14, returned: true},
}

func main() {
	dbPath := flag.String("db", defaultDemoDatabasePath, "path to the demo database file")
	todayFlag := flag.String("today", "", "date loans are aged from, YYYY-MM-DD (default: today)")
	flag.Parse()

	log := logging.New("seed_demo", "info", "text")

	today := time.Now()
	if *todayFlag != "" {
		var err error
		today, err = time.ParseInLocation(entities.DateLayout, *todayFlag, time.Local)
		if err != nil {
			log.WithError(err).Fatal("Invalid -today")
		}
	}

	log.WithField("path", *dbPath).Info("Generating demo database")

	// Delete existing demo database to start fresh
	if err := os.Remove(*dbPath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Fatal("Failed to remove existing demo database")
	}

	db, err := database.NewDatabase(*dbPath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create database")
	}
	defer db.Close()

	if _, err := db.SeedMockData(today); err != nil {
		log.WithError(err).Fatal("Failed to seed base data")
	}

	repo := loans.NewRepository(db.DB)
	ctx := context.Background()
	for _, d := range demoLoans {
		loan, err := repo.Borrow(ctx, d.book, d.reader, today.AddDate(0, 0, -d.borrowedAgo), d.days)
		if err != nil {
			log.WithError(err).WithField("book", d.book).Warn("Failed to create loan")
			continue
		}
		if d.returned {
			if err := repo.Return(ctx, loan.ID, today.AddDate(0, 0, -d.borrowedAgo+d.days)); err != nil {
				log.WithError(err).WithField("loan", loan.ID).Warn("Failed to return loan")
			}
		}
	}

	overdueCount, err := repo.CountOverdue(ctx, today)
	if err != nil {
		log.WithError(err).Fatal("Failed to count overdue loans")
	}
	log.WithFields(logrus.Fields{
		"path":    *dbPath,
		"overdue": overdueCount,
	}).Info("Demo database generated")
}
