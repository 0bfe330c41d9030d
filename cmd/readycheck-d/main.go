package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pulseworks/readycheck/pkg/api"
	"github.com/pulseworks/readycheck/pkg/blob"
	"github.com/pulseworks/readycheck/pkg/engine"
	"github.com/pulseworks/readycheck/pkg/provider/bridge"
	"github.com/pulseworks/readycheck/pkg/provider/script"
	"github.com/pulseworks/readycheck/pkg/provider/synthetic"
	"github.com/pulseworks/readycheck/pkg/store"
	redisstore "github.com/pulseworks/readycheck/pkg/store/redis"
)

const version = "0.1.0"

func main() {
	fmt.Printf(`{"level":"info","msg":"system_started","version":"%s"}`+"\n", version)

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Printf(`{"level":"fatal","msg":"invalid_config","error":"%v"}`+"\n", err)
		os.Exit(1)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		fmt.Printf(`{"level":"fatal","msg":"store_init_failed","error":"%v"}`+"\n", err)
		os.Exit(1)
	}
	defer st.Close()
	fmt.Printf(`{"level":"info","msg":"store_initialized","path":"%s"}`+"\n", cfg.DBPath)

	catalogCfg, err := engine.LoadCatalogConfig(cfg.CatalogPath)
	if err != nil {
		fmt.Printf(`{"level":"fatal","msg":"catalog_load_failed","path":"%s","error":"%v"}`+"\n", cfg.CatalogPath, err)
		os.Exit(1)
	}
	catalog, err := engine.NewCatalog(catalogCfg)
	if err != nil {
		fmt.Printf(`{"level":"fatal","msg":"catalog_invalid","error":"%v"}`+"\n", err)
		os.Exit(1)
	}
	fmt.Printf(`{"level":"info","msg":"catalog_loaded","pools":%d,"abilities":%d}`+"\n",
		len(catalog.Pools()), len(catalog.Abilities()))

	// Rates survive restarts through snapshots; a fresh journal just means
	// learning starts over.
	rates := engine.NewRateProjection(0)
	if restored, err := engine.RestoreRates(runCtx, st, rates); err != nil {
		fmt.Printf(`{"level":"warn","msg":"rate_restore_failed","error":"%v"}`+"\n", err)
	} else if restored > 0 {
		fmt.Printf(`{"level":"info","msg":"rates_restored","buckets":%d}`+"\n", restored)
	}
	if last, err := st.GetLatestSnapshotTime(runCtx); err == nil && !last.IsZero() {
		fmt.Printf(`{"level":"info","msg":"last_snapshot","ts":"%s"}`+"\n", last.UTC().Format(time.RFC3339))
	}

	var states engine.StateStore = engine.NewMemoryStateStore()
	var leases store.LeaseStore = st
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancelPing := context.WithTimeout(runCtx, 3*time.Second)
		pingErr := client.Ping(pingCtx).Err()
		cancelPing()
		if pingErr != nil {
			fmt.Printf(`{"level":"fatal","msg":"redis_unreachable","addr":"%s","error":"%v"}`+"\n", cfg.RedisAddr, pingErr)
			os.Exit(1)
		}
		states = redisstore.NewRedisStateStore(client)
		leases = redisstore.NewRedisLeaseStore(client)
		fmt.Printf(`{"level":"info","msg":"redis_attached","addr":"%s"}`+"\n", cfg.RedisAddr)
	}

	eng := engine.NewEngine(engine.EngineConfig{
		OwnerID:        cfg.OwnerID,
		SampleInterval: cfg.SampleInterval,
	}, catalog, rates, states)

	smp := engine.NewSampler(st, eng, cfg.SampleInterval)

	var world *synthetic.World
	switch cfg.Source {
	case "bridge":
		smp.Register(bridge.New("bridge", cfg.BridgeURL, cfg.BridgeToken))
		fmt.Printf(`{"level":"info","msg":"source_attached","kind":"bridge","url":"%s"}`+"\n", cfg.BridgeURL)
	case "script":
		src, err := script.Load("script", cfg.ScriptPath)
		if err != nil {
			fmt.Printf(`{"level":"fatal","msg":"script_load_failed","path":"%s","error":"%v"}`+"\n", cfg.ScriptPath, err)
			os.Exit(1)
		}
		src.SetLoop(true)
		smp.Register(src)
		fmt.Printf(`{"level":"info","msg":"source_attached","kind":"script","path":"%s"}`+"\n", cfg.ScriptPath)
	case "synthetic":
		data, err := os.ReadFile(cfg.WorldPath)
		if err != nil {
			fmt.Printf(`{"level":"fatal","msg":"world_load_failed","path":"%s","error":"%v"}`+"\n", cfg.WorldPath, err)
			os.Exit(1)
		}
		var worldCfg synthetic.Config
		if err := json.Unmarshal(data, &worldCfg); err != nil {
			fmt.Printf(`{"level":"fatal","msg":"world_parse_failed","path":"%s","error":"%v"}`+"\n", cfg.WorldPath, err)
			os.Exit(1)
		}
		world, err = synthetic.NewWorld("synthetic", worldCfg, time.Now().UTC())
		if err != nil {
			fmt.Printf(`{"level":"fatal","msg":"world_invalid","error":"%v"}`+"\n", err)
			os.Exit(1)
		}
		smp.Register(world)
		fmt.Printf(`{"level":"info","msg":"source_attached","kind":"synthetic","pools":%d}`+"\n", len(worldCfg.Pools))
	case "none":
		fmt.Printf(`{"level":"info","msg":"no_source_configured","detail":"serving journal and predictions only"}` + "\n")
	}

	snapshots := engine.NewSnapshotWorker(st, rates, time.Minute)
	rollups := engine.NewRollupWorker(st, 5*time.Minute)
	pruner := engine.NewPruneWorker(st, &engine.RetentionConfig{
		Enabled:       true,
		DefaultTTL:    "720h",
		CheckInterval: "1h",
	})
	var archiver *engine.ArchiveWorker
	if cfg.ArchiveDir != "" {
		archiver = engine.NewArchiveWorker(st, blob.NewLocalBlobStore(cfg.ArchiveDir), engine.ArchiveConfig{
			Enabled:       true,
			Retention:     30 * 24 * time.Hour,
			BatchSize:     500,
			CheckInterval: time.Hour,
		})
	}
	notifier := engine.NewNotifier(st)

	// Sampling and journal maintenance run only on the lease holder; every
	// instance serves reads and redirects writes.
	startLeaderWork := func() context.CancelFunc {
		ctx, cancel := context.WithCancel(runCtx)
		go smp.Start(ctx)
		go snapshots.Run(ctx)
		go rollups.Run(ctx)
		go pruner.Run(ctx)
		if archiver != nil {
			go archiver.Run(ctx)
		}
		go notifier.Start(ctx)
		if world != nil {
			go world.Run(ctx, cfg.SampleInterval)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case notice := <-world.Notices():
						eng.NoticeCast(notice)
					}
				}
			}()
		}
		return cancel
	}

	scheme := "http"
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		scheme = "https"
	}
	advertise := fmt.Sprintf("%s://%s", scheme, cfg.Addr)

	// Promote and demote fire sequentially from the election loop, so the
	// plain cancel var needs no lock.
	var stopLeaderWork context.CancelFunc
	em := engine.NewElectionManager(leases, advertise, "sampler", 10*time.Second,
		func() {
			fmt.Printf(`{"level":"info","msg":"promoted_to_leader"}` + "\n")
			stopLeaderWork = startLeaderWork()
		},
		func() {
			fmt.Printf(`{"level":"info","msg":"demoted_to_follower"}` + "\n")
			if stopLeaderWork != nil {
				stopLeaderWork()
				stopLeaderWork = nil
			}
		},
	)
	smp.SetEpochFunc(em.GetEpoch)
	em.Start(runCtx)

	server := api.NewServer(st, eng, smp, cfg.Addr)
	server.SetElectionManager(em)
	if cfg.APIToken != "" {
		server.SetAPIToken(cfg.APIToken)
	}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		server.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}
	go func() {
		if err := server.Start(); err != nil {
			fmt.Printf(`{"level":"fatal","msg":"server_failed","error":"%v"}`+"\n", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if err := reloadCatalog(runCtx, cfg.CatalogPath, catalog, st, cfg.OwnerID, em.GetEpoch()); err != nil {
				fmt.Printf(`{"level":"error","msg":"catalog_reload_failed","error":"%v"}`+"\n", err)
			} else {
				fmt.Printf(`{"level":"info","msg":"catalog_reloaded","path":"%s"}`+"\n", cfg.CatalogPath)
			}
			continue
		}
		fmt.Printf(`{"level":"info","msg":"shutdown_initiated","signal":"%s"}`+"\n", sig)
		break
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStop()
	if err := server.Stop(stopCtx); err != nil {
		fmt.Printf(`{"level":"warn","msg":"server_stop_error","error":"%v"}`+"\n", err)
	}
	em.Stop(stopCtx)
	cancelRun()
	fmt.Printf(`{"level":"info","msg":"shutdown_complete"}` + "\n")
}

// reloadCatalog re-reads the catalog file and swaps it in atomically. A
// parse or validation failure leaves the running catalog untouched. The
// swap is journaled so replays know which definitions were live when.
func reloadCatalog(ctx context.Context, path string, catalog *engine.Catalog, st *store.Store, ownerID string, epoch int64) error {
	cfg, err := engine.LoadCatalogConfig(path)
	if err != nil {
		return err
	}
	if err := catalog.Swap(cfg); err != nil {
		return err
	}

	now := time.Now().UTC()
	payload, _ := json.Marshal(map[string]int{
		"pools":     len(cfg.Pools),
		"abilities": len(cfg.Abilities),
	})
	evt := store.Event{
		EventID:       store.EventID(fmt.Sprintf("catalog_%d", now.UnixNano())),
		EventType:     store.EventTypeCatalogUpdated,
		SchemaVersion: 1,
		TsEvent:       now,
		TsIngest:      now,
		Epoch:         epoch,
		Source: store.EventSource{
			OriginKind: "operator",
			OriginID:   "sighup",
			WriterID:   "readycheck-d",
		},
		Dimensions: store.EventDimensions{
			OwnerID:   ownerID,
			PoolID:    store.SentinelGlobal,
			AbilityID: store.SentinelGlobal,
			SourceID:  store.SentinelUnknown,
		},
		Correlation: store.EventCorrelation{
			CorrelationID: fmt.Sprintf("reload_%d", now.UnixNano()),
			CausationID:   store.SentinelUnknown,
		},
		Payload: payload,
	}
	return st.AppendEvent(ctx, &evt)
}
