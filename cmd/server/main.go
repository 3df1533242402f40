package main

import (
	"context"
	"flag"
	"net/http"
	"sync"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"carbonx/internal/book"
	"carbonx/internal/bus"
	"carbonx/internal/events"
	"carbonx/internal/ledger"
	"carbonx/internal/obs"
	"carbonx/internal/ops"
	"carbonx/internal/reconcile"
	"carbonx/internal/service"
	"carbonx/internal/settle"
	"carbonx/internal/store"
	"carbonx/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	profilerAddr := flag.String("profiler", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	if *profilerAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "carbonx.settlement",
			ServerAddress:   *profilerAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Fatalf("pyroscope start failed: %+v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		logs.Fatalf("config load failed: %+v", err)
	}

	if err := run(loaded); err != nil {
		logs.Fatalf("server failed: %+v", err)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Loaded{
			Ledger: ops.LedgerSpec{
				Mode:    "stub",
				Gateway: ledger.DefaultGatewayConfig(),
			},
			MatchInterval: time.Second,
			Reconcile:     reconcile.DefaultConfig(),
			Features:      ops.FeatureFlags{AutoMigrate: true},
		}, nil
	}
	return ops.Load(path)
}

func run(loaded ops.Loaded) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(loaded)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := openLedger(loaded.Ledger)
	if err != nil {
		return err
	}
	gateway := ledger.NewGateway(client, loaded.Ledger.Gateway)

	eventCap := loaded.EventCap
	if eventCap <= 0 {
		eventCap = 1024
	}
	queue := bus.NewQueue(eventCap)
	metrics := obs.NewMetrics()
	bk := book.New(st)
	orch := settle.NewOrchestrator(st, gateway, bk, queue, metrics, loaded.Workers, loaded.QueueCap)
	svc := service.New(st, bk, orch, queue, metrics)
	rec := reconcile.New(st, gateway, orch, metrics, loaded.Reconcile)

	if err := svc.Recover(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if len(loaded.Kafka.Brokers) > 0 {
		broadcaster, err := events.New(queue, loaded.Kafka.Brokers, loaded.Kafka.Topic)
		if err != nil {
			return err
		}
		defer broadcaster.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			broadcaster.Run(ctx)
		}()
	}

	orch.Run(ctx)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		svc.Run(ctx, loaded.MatchInterval)
	}()

	logs.Info("settlement server started")
	<-sys.Shutdown()
	logs.Info("shutting down")

	cancel()
	queue.Close()
	wg.Wait()

	snap := metrics.Snapshot()
	logs.Infof("final metrics: settled=%d failed=%d matches=%d reconciled=%d abandoned=%d drops=%d",
		snap.TradesSettled, snap.TradesFailed, snap.MatchesMade, snap.Reconciled, snap.Abandoned, snap.QueueDrops)
	return nil
}

func openStore(loaded ops.Loaded) (store.Store, func(), error) {
	if loaded.Postgres == nil {
		logs.Warn("no postgres configured, using the in-memory store")
		return store.NewMemStore(), func() {}, nil
	}
	client, err := conn.New(*loaded.Postgres)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPGStore(client.DB())
	if loaded.Features.AutoMigrate {
		if err := pg.Migrate(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}
	return pg, func() { _ = client.Close() }, nil
}

func openLedger(spec ops.LedgerSpec) (ledger.Client, error) {
	if spec.Mode == "http" {
		return ledger.NewHTTPClient(spec.BaseURL, &http.Client{Timeout: 10 * time.Second}), nil
	}
	logs.Warn("stub ledger mode, operations confirm locally")
	return ledger.NewStubLedger(), nil
}
