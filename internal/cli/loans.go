package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mrlokans/circulation/internal/audit"
	"github.com/mrlokans/circulation/internal/config"
	"github.com/mrlokans/circulation/internal/database"
	auditRepo "github.com/mrlokans/circulation/internal/database/audit"
	"github.com/mrlokans/circulation/internal/database/loans"
	"github.com/mrlokans/circulation/internal/logging"
)

// BorrowCommand lends a book to a reader.
type BorrowCommand struct {
	DatabasePath string
	BookID       uint
	ReaderID     uint
	Date         string
	Days         int

	Out io.Writer
}

func NewBorrowCommand() *BorrowCommand {
	return &BorrowCommand{Out: os.Stdout}
}

func (cmd *BorrowCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("borrow", flag.ContinueOnError)

	fs.StringVar(&cmd.DatabasePath, "db", envOr("DATABASE_PATH", config.DefaultDatabasePath), "Path to the database file")
	fs.UintVar(&cmd.BookID, "book", 0, "Book ID (required)")
	fs.UintVar(&cmd.ReaderID, "reader", 0, "Reader ID (required)")
	fs.StringVar(&cmd.Date, "date", "", "Borrow date, YYYY-MM-DD (default: today)")
	fs.IntVar(&cmd.Days, "days", loans.DefaultLoanDays, "Loan period in days")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s borrow -book ID -reader ID [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.BookID == 0 || cmd.ReaderID == 0 {
		fs.Usage()
		return fmt.Errorf("book and reader are required")
	}
	return nil
}

func (cmd *BorrowCommand) Run() error {
	borrowedOn, err := parseDay(cmd.Date)
	if err != nil {
		return err
	}

	return withLoans(cmd.DatabasePath, func(repo *loans.Repository, auditService *audit.Service) error {
		loan, err := repo.Borrow(context.Background(), cmd.BookID, cmd.ReaderID, borrowedOn, cmd.Days)
		if err != nil {
			return err
		}
		auditService.LogLoan("loan_borrow", loan.ID,
			fmt.Sprintf("Book %d lent to reader %d, due %s", loan.BookID, loan.ReaderID, loan.DueDate))

		fmt.Fprintf(cmd.Out, "Loan %d created, due %s.\n", loan.ID, loan.DueDate)
		return nil
	})
}

// ReturnCommand marks a loan as returned.
type ReturnCommand struct {
	DatabasePath string
	LoanID       uint

	Out io.Writer
}

func NewReturnCommand() *ReturnCommand {
	return &ReturnCommand{Out: os.Stdout}
}

func (cmd *ReturnCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("return", flag.ContinueOnError)

	fs.StringVar(&cmd.DatabasePath, "db", envOr("DATABASE_PATH", config.DefaultDatabasePath), "Path to the database file")
	fs.UintVar(&cmd.LoanID, "loan", 0, "Loan ID (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s return -loan ID [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.LoanID == 0 {
		fs.Usage()
		return fmt.Errorf("loan is required")
	}
	return nil
}

func (cmd *ReturnCommand) Run() error {
	return withLoans(cmd.DatabasePath, func(repo *loans.Repository, auditService *audit.Service) error {
		if err := repo.Return(context.Background(), cmd.LoanID, nowFunc()); err != nil {
			return err
		}
		auditService.LogLoan("loan_return", cmd.LoanID, fmt.Sprintf("Loan %d returned", cmd.LoanID))

		fmt.Fprintf(cmd.Out, "Loan %d returned.\n", cmd.LoanID)
		return nil
	})
}

// withLoans opens the database for a single loan operation and flushes its
// audit events before closing.
func withLoans(path string, fn func(*loans.Repository, *audit.Service) error) error {
	log := logging.New("cli", "warn", "text")
	db, err := database.NewDatabase(path, log)
	if err != nil {
		return err
	}
	defer db.Close()

	auditService := audit.NewService(auditRepo.NewRepository(db.DB), log)
	defer auditService.Wait()

	return fn(loans.NewRepository(db.DB), auditService)
}
