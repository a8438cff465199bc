package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/circulation/internal/entities"
)

const (
	defaultOverdueLimit = 50
	maxOverdueLimit     = 500
)

type OverdueController struct {
	store OverdueStore
	now   func() time.Time
	log   logrus.FieldLogger
}

func NewOverdueController(store OverdueStore, now func() time.Time, log logrus.FieldLogger) *OverdueController {
	if now == nil {
		now = time.Now
	}
	return &OverdueController{store: store, now: now, log: log}
}

// OverdueLoan is one row of the overdue listing.
type OverdueLoan struct {
	LoanID      uint   `json:"loan_id"`
	BookID      uint   `json:"book_id"`
	BookTitle   string `json:"book_title"`
	ReaderID    uint   `json:"reader_id"`
	ReaderName  string `json:"reader_name"`
	BorrowDate  string `json:"borrow_date"`
	DueDate     string `json:"due_date"`
	DaysOverdue int    `json:"days_overdue"`
}

type OverdueResponse struct {
	AsOf    string        `json:"as_of"`
	Count   int64         `json:"count"`
	Message string        `json:"message,omitempty"`
	Loans   []OverdueLoan `json:"loans"`
}

// List handles GET /api/overdue?limit=N
// Counts and lists overdue loans as of today on the foreground connection.
func (oc *OverdueController) List(c *gin.Context) {
	limit, _ := parseLimitOffset(c, defaultOverdueLimit, maxOverdueLimit)
	today := oc.now()
	ctx := c.Request.Context()

	count, err := oc.store.CountOverdue(ctx, today)
	if err != nil {
		respondInternalError(c, oc.log, err, "count overdue")
		return
	}
	loans, err := oc.store.ListOverdue(ctx, today, limit)
	if err != nil {
		respondInternalError(c, oc.log, err, "list overdue")
		return
	}

	resp := OverdueResponse{
		AsOf:  entities.FormatDate(today),
		Count: count,
		Loans: make([]OverdueLoan, 0, len(loans)),
	}
	if count > 0 {
		resp.Message = overdueMessage(count)
	}
	for _, l := range loans {
		resp.Loans = append(resp.Loans, OverdueLoan{
			LoanID:      l.ID,
			BookID:      l.BookID,
			BookTitle:   l.Book.Title,
			ReaderID:    l.ReaderID,
			ReaderName:  l.Reader.Name,
			BorrowDate:  l.BorrowDate,
			DueDate:     l.DueDate,
			DaysOverdue: daysOverdue(l.DueDate, today),
		})
	}

	c.JSON(http.StatusOK, resp)
}

// daysOverdue counts calendar days between the due date and today's date in
// today's location. An unparseable date yields 0.
func daysOverdue(dueDate string, today time.Time) int {
	due, err := time.Parse(entities.DateLayout, dueDate)
	if err != nil {
		return 0
	}
	y, m, d := today.Date()
	// UTC days are always 24h long, so the division is exact across DST changes
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(midnight.Sub(due).Hours() / 24)
}
