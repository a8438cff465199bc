package config

// Default paths for databases
const (
	// DefaultDatabasePath is the default path for the circulation database
	DefaultDatabasePath = "./library.db"
)

// Monitor notification policies
const (
	NotifyPolicyAlways   = "always"    // Notify on every check that finds overdue loans
	NotifyPolicyOnChange = "on-change" // Notify only when the overdue count changes
)
