package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// CheckTableExists checks if a table exists in the database
func CheckTableExists(db *gorm.DB, tableName string) (bool, error) {
	if tableName == "" {
		return false, fmt.Errorf("table name is required")
	}
	return db.Migrator().HasTable(tableName), nil
}

// VerifyColumns fails when the table or any of the given columns is missing.
// Jobs call it before touching the network so that a schema mismatch is
// reported before anything is uploaded.
func VerifyColumns(db *gorm.DB, tableName string, columns []string) error {
	exists, err := CheckTableExists(db, tableName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("table %s does not exist", tableName)
	}

	var missing []string
	for _, col := range columns {
		if !db.Migrator().HasColumn(tableName, col) {
			missing = append(missing, col)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("table %s is missing columns: %s", tableName, strings.Join(missing, ", "))
	}

	return nil
}
