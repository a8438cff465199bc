package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/circulation/internal/entities"
)

type Database struct {
	DB   *gorm.DB
	Path string
}

func NewDatabase(dbPath string, log logrus.FieldLogger) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(FileURI(dbPath, BusyTimeout())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate all entities
	err = db.AutoMigrate(
		&entities.Book{},
		&entities.Reader{},
		&entities.Loan{},
		&entities.AuditEvent{},
	)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if log != nil {
		log.WithField("path", dbPath).Info("Database initialized")
	}

	return &Database{DB: db, Path: dbPath}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the foreground connection is still usable.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

var mockBooks = []entities.Book{
	{Title: "C++ GUI Programming with Qt", Author: "Jasmin Blanchette", TotalCount: 5, CurrentCount: 5},
	{Title: "Computer Systems: A Programmer's Perspective", Author: "Randal E. Bryant", TotalCount: 3, CurrentCount: 3},
}

var mockReaders = []entities.Reader{
	{Name: "Li Si", Phone: "13800000001"},
	{Name: "Wang Wu", Phone: "13800000002"},
}

// OverdueSeedAge is how far in the past the seeded loan fell due.
const OverdueSeedAge = 10 * 24 * time.Hour

// SeedMockData fills an empty database with two books, two readers and one
// loan that fell due OverdueSeedAge before today. Returns false when the
// books table already has rows and nothing was inserted.
func (d *Database) SeedMockData(today time.Time) (bool, error) {
	seeded := false
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&entities.Book{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		books := append([]entities.Book(nil), mockBooks...)
		if err := tx.Create(&books).Error; err != nil {
			return fmt.Errorf("failed to create books: %w", err)
		}
		readers := append([]entities.Reader(nil), mockReaders...)
		if err := tx.Create(&readers).Error; err != nil {
			return fmt.Errorf("failed to create readers: %w", err)
		}

		past := entities.FormatDate(today.Add(-OverdueSeedAge))
		loan := entities.Loan{
			BookID:     books[0].ID,
			ReaderID:   readers[0].ID,
			BorrowDate: past,
			DueDate:    past,
		}
		if err := tx.Create(&loan).Error; err != nil {
			return fmt.Errorf("failed to create overdue loan: %w", err)
		}
		if err := tx.Model(&books[0]).Update("current_count", gorm.Expr("current_count - 1")).Error; err != nil {
			return err
		}

		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to seed mock data: %w", err)
	}
	return seeded, nil
}

// GetBookByID is used by the HTTP layer to resolve titles in listings.
func (d *Database) GetBookByID(id uint) (*entities.Book, error) {
	var book entities.Book
	if err := d.DB.First(&book, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("book %d: %w", id, err)
		}
		return nil, err
	}
	return &book, nil
}
