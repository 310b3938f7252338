// Maintenance utility: inspect or clear the pending-operation store directly,
// without a running daemon. Useful when a queue file needs to be examined
// after a crash or before deleting a device profile.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"driftsync/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dbPath = flag.String("db", "data/driftsync.db", "path to the sqlite store")
		purge  = flag.Bool("clear", false, "drop all pending operations after listing them")
	)
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		return fmt.Errorf("store not found: %w", err)
	}

	st, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ops, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("load pending operations: %w", err)
	}

	if len(ops) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	for _, op := range ops {
		line := fmt.Sprintf("%s %s entity=%s retries=%d created=%s",
			op.ID, op.Type, op.EntityID, op.RetryCount, op.CreatedAt.Format(time.RFC3339))
		if op.Date != "" {
			line += " date=" + op.Date
		}
		fmt.Println(line)
	}
	fmt.Printf("total: %d\n", len(ops))

	if *purge {
		if err := st.Clear(ctx); err != nil {
			return fmt.Errorf("clear queue: %w", err)
		}
		fmt.Printf("cleared %d operations\n", len(ops))
	}
	return nil
}
