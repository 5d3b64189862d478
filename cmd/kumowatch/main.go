package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshp123/kumocloud-golang/internal/config"
	"github.com/joshp123/kumocloud-golang/internal/mqttbridge"
	"github.com/joshp123/kumocloud-golang/internal/ratelimit"
	"github.com/joshp123/kumocloud-golang/internal/tokenstate"
	"github.com/joshp123/kumocloud-golang/kumo"
)

const tokenStateName = "kumo"

func main() {
	configPath := envOrDefault("KUMOWATCH_CONFIG", "/etc/kumowatch/config.yaml")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	password, err := config.ReadSecret(cfg.Kumo.PasswordFile)
	if err != nil {
		log.Fatalf("password: %v", err)
	}

	client := kumo.NewClient(kumo.Config{
		BaseURL:  cfg.Kumo.BaseURL,
		Username: cfg.Kumo.Username,
		Password: password,
	})

	store, err := newTokenStore(cfg.State)
	if err != nil {
		log.Fatalf("token store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if state, err := store.Load(ctx); err == nil {
		client.SetToken(state.Token())
	} else if !errors.Is(err, tokenstate.ErrStateNotFound) {
		log.Printf("token state unusable, starting fresh: %v", err)
	}

	client.OnTokenUpdated(func(_, _ string) error {
		return store.Save(ctx, tokenstate.FromToken(client.Token()))
	})

	if len(os.Args) > 1 && os.Args[1] == "sites" {
		if err := printSites(ctx, client); err != nil {
			log.Fatalf("sites: %v", err)
		}
		return
	}

	interval := time.Duration(cfg.Kumo.ScanIntervalSeconds) * time.Second
	coord, err := kumo.Setup(ctx, client, cfg.Kumo.SiteID, interval)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	coord.OnReauthNeeded(func() {
		log.Printf("repeated authentication failures; check account credentials")
	})

	if cfg.MQTT != nil {
		bridge, err := newBridge(cfg.MQTT)
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		defer bridge.Close()

		coord.OnUpdate(bridge.PublishSnapshot)
		err = bridge.SubscribeCommands(func(serial string, commands map[string]any) {
			if err := coord.SendCommand(ctx, serial, commands); err != nil {
				log.Printf("command for %s: %v", serial, err)
			}
		})
		if err != nil {
			log.Fatalf("mqtt subscribe: %v", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(ratelimit.MetricsCollectors()...)
	registry.MustRegister(kumo.MetricsCollectors()...)
	registry.MustRegister(kumo.NewSnapshotCollector(coord))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "kumowatch_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	coord.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

func newTokenStore(cfg config.StateConfig) (*tokenstate.Store, error) {
	var blob tokenstate.BlobStore
	if cfg.Blob != nil {
		s3, err := tokenstate.NewS3Store(tokenstate.BlobConfig{
			Endpoint:      cfg.Blob.Endpoint,
			Bucket:        cfg.Blob.Bucket,
			Prefix:        cfg.Blob.Prefix,
			Region:        cfg.Blob.Region,
			AccessKeyFile: cfg.Blob.AccessKeyFile,
			SecretKeyFile: cfg.Blob.SecretKeyFile,
		})
		if err != nil {
			return nil, err
		}
		blob = s3
	}
	return tokenstate.NewStore(cfg.Path, tokenStateName, blob), nil
}

func newBridge(cfg *config.MQTTConfig) (*mqttbridge.Bridge, error) {
	var password string
	if cfg.PasswordFile != "" {
		secret, err := config.ReadSecret(cfg.PasswordFile)
		if err != nil {
			return nil, err
		}
		password = secret
	}
	return mqttbridge.New(mqttbridge.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		TLS:         cfg.TLS,
		Username:    cfg.Username,
		Password:    password,
		TopicPrefix: cfg.TopicPrefix,
	})
}

func printSites(ctx context.Context, client *kumo.Client) error {
	if client.Token() == nil {
		if err := client.Login(ctx); err != nil {
			return err
		}
	}
	sites, err := client.Sites(ctx)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		fmt.Println("no sites on this account")
		return nil
	}
	for _, site := range sites {
		fmt.Printf("%s\t%s\n", site.ID, site.Name)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
