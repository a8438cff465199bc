// Package database provides the foreground data access layer.
//
// # Architecture
//
//	database/
//	├── database.go      # Connection setup, migrations, mock data seeding
//	├── loans/           # Borrow, return and overdue queries (gorm)
//	├── audit/           # Audit event storage
//	└── overdue/         # Private read-only connection for the overdue monitor (sqlx)
//
// The foreground Database and the repositories built on its *gorm.DB are
// used by the goroutines serving the host: seeding, HTTP handlers, task
// workers. The overdue monitor never touches them; it opens its own
// connection through overdue.Open so no session is shared between
// goroutines.
//
// # Using Sub-packages
//
//	db, err := database.NewDatabase("./library.db", log)
//	loansRepo := loans.NewRepository(db.DB)
//	count, err := loansRepo.CountOverdue(ctx, time.Now())
//
// # Adding a New Domain
//
//  1. Create a new sub-package: internal/database/<domain>/
//  2. Define a Repository struct with a *gorm.DB field
//  3. Add NewRepository(db *gorm.DB) constructor
//  4. Add a compile-time interface check in internal/interfaces
package database
