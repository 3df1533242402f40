package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/yanun0323/logs"

	"carbonx/internal/book"
	"carbonx/internal/bus"
	"carbonx/internal/ledger"
	"carbonx/internal/obs"
	"carbonx/internal/ops"
	"carbonx/internal/reconcile"
	"carbonx/internal/settle"
	"carbonx/internal/store"
	"carbonx/pkg/conn"
)

// audit runs a single reconciliation sweep against the durable store and
// exits. Useful from cron or after an incident, independent of the
// long-running server.
func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	grace := flag.Duration("grace", 0, "Override reconcile grace period (0=config value)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall sweep timeout")
	flag.Parse()

	if *configPath == "" {
		logs.Fatal("audit requires -config")
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Fatalf("config load failed: %+v", err)
	}
	if loaded.Postgres == nil {
		logs.Fatal("audit requires a postgres store; an in-memory store has nothing to reconcile")
	}
	if *grace > 0 {
		loaded.Reconcile.Grace = *grace
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := conn.New(*loaded.Postgres)
	if err != nil {
		logs.Fatalf("postgres connect failed: %+v", err)
	}
	defer client.Close()
	st := store.NewPGStore(client.DB())

	var ledgerClient ledger.Client = ledger.NewStubLedger()
	if loaded.Ledger.Mode == "http" {
		ledgerClient = ledger.NewHTTPClient(loaded.Ledger.BaseURL, &http.Client{Timeout: 10 * time.Second})
	}
	gateway := ledger.NewGateway(ledgerClient, loaded.Ledger.Gateway)

	metrics := obs.NewMetrics()
	queue := bus.NewQueue(256)
	orch := settle.NewOrchestrator(st, gateway, book.New(st), queue, metrics, 1, 256)
	rec := reconcile.New(st, gateway, orch, metrics, loaded.Reconcile)

	if err := rec.Sweep(ctx); err != nil {
		logs.Fatalf("sweep failed: %+v", err)
	}

	snap := metrics.Snapshot()
	logs.Infof("sweep done: reconciled=%d abandoned=%d", snap.Reconciled, snap.Abandoned)
}
