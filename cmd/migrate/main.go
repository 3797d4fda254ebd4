package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"skin-api/internal/shared"

	_ "github.com/go-sql-driver/mysql"
)

func main() {
	// Get DSN from environment
	DSN, err := shared.SafeEnv("DSN")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: DSN environment variable is required: %v\n", err)
		os.Exit(1)
	}

	// Read migration file
	migrationPath := filepath.Join("migrations", "create_analysis_table.sql")
	if len(os.Args) > 1 {
		migrationPath = os.Args[1]
	}

	migrationSQL, err := os.ReadFile(migrationPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading migration file %s: %v\n", migrationPath, err)
		os.Exit(1)
	}

	// Connect to database
	db, err := sql.Open("mysql", DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Test connection
	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Error pinging database: %v\n", err)
		os.Exit(1)
	}

	for _, stmt := range splitStatements(string(migrationSQL)) {
		_, err := db.Exec(stmt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error executing statement: %v\n", err)
			fmt.Fprintf(os.Stderr, "Statement: %s\n", stmt)
			os.Exit(1)
		}
	}

	fmt.Println("Migration completed successfully!")
}

// splitStatements splits on semicolons and drops comment lines and empty
// statements
func splitStatements(migrationSQL string) []string {
	var out []string
	for _, stmt := range strings.Split(migrationSQL, ";") {
		var cleanLines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if !strings.HasPrefix(trimmed, "--") && trimmed != "" {
				cleanLines = append(cleanLines, line)
			}
		}
		if len(cleanLines) == 0 {
			continue
		}
		out = append(out, strings.Join(cleanLines, "\n"))
	}
	return out
}
