// Command mailclerk-reconcile is a one-shot batch job: it repairs any
// drift between the live token-usage counters and the processed_emails
// ledger, then purges counters past the retention window. Intended to
// run on a periodic job runner outside the daemon's own scheduler.
package main

import (
	"context"
	"log"
	"os"

	"mailclerk/internal/config"
	"mailclerk/internal/reconcile"
	"mailclerk/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("MC_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx, st.DB()); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	svc := reconcile.NewService(st)
	report, err := svc.Run(ctx)
	if err != nil {
		log.Fatalf("reconciliation failed: %v", err)
	}
	log.Printf("reconciliation complete: counters_repaired=%d counters_purged=%d", report.CountersRepaired, report.CountersPurged)
}
