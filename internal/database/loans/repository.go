package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/circulation/internal/entities"
)

var (
	ErrLoanNotFound      = errors.New("loan not found")
	ErrAlreadyReturned   = errors.New("loan already returned")
	ErrNoCopiesAvailable = errors.New("no copies available")
)

// DefaultLoanDays is the lending period used when Borrow gets a non-positive value.
const DefaultLoanDays = 30

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Borrow lends one copy of a book to a reader, due loanDays after borrowedOn.
func (r *Repository) Borrow(ctx context.Context, bookID, readerID uint, borrowedOn time.Time, loanDays int) (*entities.Loan, error) {
	if loanDays <= 0 {
		loanDays = DefaultLoanDays
	}

	var loan *entities.Loan
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entities.Book{}).
			Where("id = ? AND current_count > 0", bookID).
			Update("current_count", gorm.Expr("current_count - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoCopiesAvailable
		}

		loan = &entities.Loan{
			BookID:     bookID,
			ReaderID:   readerID,
			BorrowDate: entities.FormatDate(borrowedOn),
			DueDate:    entities.FormatDate(borrowedOn.AddDate(0, 0, loanDays)),
		}
		return tx.Create(loan).Error
	})
	if err != nil {
		return nil, fmt.Errorf("borrow book %d: %w", bookID, err)
	}
	return loan, nil
}

// Return marks a loan as returned and puts the copy back on the shelf.
func (r *Repository) Return(ctx context.Context, loanID uint, returnedAt time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var loan entities.Loan
		if err := tx.First(&loan, loanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}
		if loan.IsReturned {
			return ErrAlreadyReturned
		}

		if err := tx.Model(&loan).Updates(map[string]any{
			"is_returned": true,
			"returned_at": returnedAt,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&entities.Book{}).
			Where("id = ?", loan.BookID).
			Update("current_count", gorm.Expr("current_count + 1")).Error
	})
	if err != nil {
		return fmt.Errorf("return loan %d: %w", loanID, err)
	}
	return nil
}

// overdue scopes a query to unreturned loans due before asOf's calendar day.
func overdue(asOf time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("is_returned = ? AND due_date < ?", false, entities.FormatDate(asOf))
	}
}

// CountOverdue counts loans that are unreturned and past due as of asOf.
func (r *Repository) CountOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Loan{}).Scopes(overdue(asOf)).Count(&count).Error
	return count, err
}

// ListOverdue returns overdue loans with their book and reader, oldest due date first.
func (r *Repository) ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]entities.Loan, error) {
	if limit <= 0 {
		limit = 50
	}

	var loans []entities.Loan
	err := r.db.WithContext(ctx).
		Preload("Book").
		Preload("Reader").
		Scopes(overdue(asOf)).
		Order("due_date ASC, id ASC").
		Limit(limit).
		Find(&loans).Error
	return loans, err
}

// GetByID retrieves a single loan.
func (r *Repository) GetByID(ctx context.Context, id uint) (*entities.Loan, error) {
	var loan entities.Loan
	err := r.db.WithContext(ctx).First(&loan, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loan, nil
}
