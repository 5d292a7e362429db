package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/gaborage/tunecache/database"
)

//go:embed schema.sql
var schema string

// Statements splits the embedded schema into single statements.
func Statements() []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Migrate creates the catalog tables if they do not exist.
func Migrate(ctx context.Context, db database.Interface) error {
	return database.WithTx(ctx, db, func(tx database.Tx) error {
		for i, stmt := range Statements() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}
