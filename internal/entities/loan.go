package entities

import "time"

// LoanTable keeps the table name of the original circulation schema.
const LoanTable = "records"

// DateLayout is the on-disk format of borrow and due dates. Dates are stored
// as text so that "due_date < ?" compares them in calendar order.
const DateLayout = "2006-01-02"

type Loan struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	BookID     uint       `gorm:"index;not null" json:"book_id"`
	ReaderID   uint       `gorm:"index;not null" json:"reader_id"`
	BorrowDate string     `gorm:"size:10;not null" json:"borrow_date"`
	DueDate    string     `gorm:"column:due_date;size:10;index;not null" json:"due_date"`
	IsReturned bool       `gorm:"not null;default:false;index" json:"is_returned"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Book   Book   `gorm:"foreignKey:BookID" json:"book,omitempty"`
	Reader Reader `gorm:"foreignKey:ReaderID" json:"reader,omitempty"`
}

func (Loan) TableName() string {
	return LoanTable
}

// IsOverdue reports whether the loan is unreturned and due before asOf's calendar day.
func (l Loan) IsOverdue(asOf time.Time) bool {
	return !l.IsReturned && l.DueDate < FormatDate(asOf)
}

// FormatDate renders t as a storage date in t's own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
