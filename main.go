package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/config"
	"chat-core/logger"
	"chat-core/model"
	"chat-core/moderation"
	"chat-core/notify"
	"chat-core/permissions"
	"chat-core/pipeline"
	"chat-core/presence"
	"chat-core/scheduler"
	"chat-core/status"
	"chat-core/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	appLog := logger.New("core")
	defer appLog.Sync()

	db, err := store.Init(cfg.DBPath)
	if err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}
	defer db.Close()

	mem := cache.NewMemory()
	defer mem.Close()

	bus := broadcast.NewBus(logger.New("broadcast"))
	hub := broadcast.NewHub(bus, logger.New("gateway"))
	go hub.Run()

	resolver := permissions.NewResolver(db)

	queue := notify.NewMemoryQueue(1024, logger.New("notify"))
	worker := notify.NewWorker(db, queue, logger.New("notify"))
	workerDone := make(chan struct{})
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go worker.Run(workerDone, &workerWG)

	engine, err := moderation.NewEngine(db, mem, bus, resolver, queue,
		func() ([]string, error) { return config.LoadWordList(cfg.WordListPath) },
		cfg.Tunables.ModerationLogMaxItems, logger.New("moderation"))
	if err != nil {
		log.Fatalf("Error initializing moderation engine: %v", err)
	}

	pipe := pipeline.New(db, mem, bus, resolver, engine, queue, cfg.Tunables, logger.New("pipeline"))

	tracker := presence.NewTracker(db, mem, bus, logger.New("presence"))
	hub.SetSessionHooks(
		func(userID string) {
			if err := tracker.SetStatus(userID, model.StatusOnline); err != nil {
				appLog.Errorw("failed to mark session online", "user", userID, "err", err)
			}
		},
		func(userID string) {
			if err := tracker.SetStatus(userID, model.StatusOffline); err != nil {
				appLog.Errorw("failed to mark session offline", "user", userID, "err", err)
			}
		},
	)

	sched := scheduler.New(db, mem, pipe, engine,
		time.Duration(cfg.SweepIntervalSeconds)*time.Second,
		cfg.Tunables.NotificationKeepDays, cfg.Tunables.TrendingLimit,
		cfg.DBPath, logger.New("scheduler"))
	sched.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap, err := status.Collect(cfg.DBPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})
	server := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		appLog.Infow("gateway listening", "addr", cfg.GatewayAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Errorw("gateway server failed", "err", err)
		}
	}()

	appLog.Infow("core is running, press CTRL-C to exit")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	appLog.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLog.Errorw("gateway shutdown failed", "err", err)
	}
	sched.Stop()
	hub.Stop()
	close(workerDone)
	workerWG.Wait()
}
