package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bambuoverlay/config"
	"bambuoverlay/engine"
	"bambuoverlay/messaging"
	"bambuoverlay/obsws"
	"bambuoverlay/printerfs"
	"bambuoverlay/statecache"
	"bambuoverlay/store"
	"bambuoverlay/telemetry"
	"bambuoverlay/www"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "bambuoverlay.yaml", "path to config file")
	debug := pflag.Bool("debug", false, "enable debug logging")
	port := pflag.Int("port", 0, "HTTP port (overrides config)")
	writeConfig := pflag.Bool("write-config", false, "write the effective config to --config and exit")
	pflag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}
	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("write config: %v", err)
		}
		log.Printf("wrote %s", *configPath)
		return
	}
	if cfg.Messaging.ReportTopic == "" {
		log.Printf("warning: printer.serial not set, no telemetry topic to subscribe to")
	}

	// Job ledger (optional)
	var db *store.DB
	if cfg.Database.Driver != "" {
		db, err = store.Open(&cfg.Database)
		if err != nil {
			log.Printf("open database: %v (job ledger disabled)", err)
			db = nil
		} else {
			defer db.Close()
		}
	}

	// Compositor
	obs := obsws.New(obsws.Config{
		URL:               cfg.OBS.URL,
		Password:          cfg.OBS.Password,
		ReconnectInterval: cfg.OBS.ReconnectInterval,
		RequestTimeout:    cfg.OBS.RequestTimeout,
		Debug:             *debug,
	})

	// Job file retrieval
	var fetcher engine.AssetFetcher
	if cfg.FTP.Enabled {
		fetcher = printerfs.NewFetcher(printerfs.NewFTPS(printerfs.Config{
			Host:               cfg.FTP.Host,
			Port:               cfg.FTP.Port,
			Username:           cfg.FTP.Username,
			Password:           cfg.FTP.Password,
			InsecureSkipVerify: cfg.FTP.InsecureSkipVerify,
			Timeout:            cfg.FTP.Timeout,
		}))
	}

	eng := engine.New(engine.Config{
		AppConfig: cfg,
		Sink:      obs,
		Fetcher:   fetcher,
		LogFunc:   log.Printf,
		Debug:     *debug,
	})
	if db != nil {
		eng.AttachLedger(db)
	}

	// Redis mirror (optional)
	var rdb *redis.Client
	var mirror *statecache.Mirror
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirror = statecache.NewMirror(statecache.NewRedisStore(rdb, cfg.Redis.Prefix))
		mirror.Attach(eng.Events)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs.OnConnect(eng.HandleSinkConnected)
	obs.OnDisconnect(eng.HandleSinkDisconnected)
	obs.Start(ctx)

	// Telemetry intake
	msgClient := messaging.NewClient(&cfg.Messaging)
	msgClient.OnConnect(func() { eng.HandleBrokerConnection(true, nil) })
	msgClient.OnConnectionLost(func(err error) { eng.HandleBrokerConnection(false, err) })
	ingestor := telemetry.NewIngestor(eng, *debug)
	sub := messaging.NewSubscriber(msgClient, &cfg.Messaging, ingestor)
	if err := sub.Start(); err != nil {
		log.Printf("telemetry subscribe: %v", err)
	}
	if err := msgClient.Connect(); err != nil {
		log.Printf("messaging connect: %v", err)
	}
	log.Printf("printer %s: telemetry via %s on %s", cfg.StationID(), cfg.Messaging.Backend, cfg.Messaging.ReportTopic)

	// Status web server
	var server *http.Server
	stopWeb := func() {}
	if cfg.Web.Enabled {
		var router http.Handler
		router, stopWeb = www.NewRouter(eng, db)
		addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
		server = &http.Server{Addr: addr, Handler: router}
		go func() {
			log.Printf("status page listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	stopWeb()
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("http server shutdown: %v", err)
		}
		shutdownCancel()
	}

	// Intake first so no snapshot arrives after the engine stops.
	sub.Stop()
	eng.Stop()
	msgClient.Close()
	cancel()
	obs.Close()
	if mirror != nil {
		mirror.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
}
