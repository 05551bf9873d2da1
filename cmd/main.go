// labwatch - lab session registry and remote control relay
// One binary runs either the lab server or the agent on a lab machine.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labwatch/internal/agent"
	"labwatch/internal/api"
	"labwatch/internal/auth"
	"labwatch/internal/autostart"
	"labwatch/internal/bridge"
	"labwatch/internal/config"
	"labwatch/internal/ctrllock"
	"labwatch/internal/domain"
	"labwatch/internal/relay"
	"labwatch/internal/session"
	"labwatch/internal/store"
	"labwatch/internal/tray"
	"labwatch/internal/ui"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
)

var (
	version       = "0.1.0"
	role          = flag.String("role", "", "Run as \"server\" or \"agent\" (overrides config)")
	configPath    = flag.String("config", "", "Path to config file")
	showVer       = flag.Bool("version", false, "Show version")
	autostartMode = flag.String("autostart", "", "Register (\"enable\") or remove (\"disable\") the agent login item")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("labwatch version %s\n", version)
		return
	}

	if *autostartMode != "" {
		handleAutostart(*autostartMode)
		return
	}

	// Initialize config
	cfgMgr, err := newConfigManager(*configPath)
	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	if err := cfgMgr.Load(); err != nil {
		log.Printf("Warning: failed to load config: %v", err)
	}
	cfgMgr.ApplyEnv()

	// Flag overrides apply to this run only, never to the saved file
	cfg := cfgMgr.Get().Clone()
	if *role != "" {
		cfg.General.Role = *role
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	switch cfg.General.Role {
	case config.RoleServer:
		runServer(cfg)
	default:
		runAgent(cfgMgr)
	}
}

func newConfigManager(path string) (*config.Manager, error) {
	if path != "" {
		return config.NewManagerAt(path), nil
	}
	return config.NewManager()
}

func handleAutostart(mode string) {
	var err error
	switch mode {
	case "enable":
		err = autostart.Enable(agentArgs()...)
	case "disable":
		err = autostart.Disable()
	default:
		log.Fatalf("Unknown --autostart value %q (want enable or disable)", mode)
	}
	if err != nil {
		log.Fatalf("Autostart %s failed: %v", mode, err)
	}
	fmt.Printf("Autostart %sd\n", mode)
}

// agentArgs are the arguments the login item starts the agent with
func agentArgs() []string {
	args := []string{"--role", config.RoleAgent}
	if *configPath != "" {
		args = append(args, "--config", *configPath)
	}
	return args
}

func openStore(cfg *config.Config) store.Store {
	if cfg.Database.DSN == "" {
		log.Println("Server: no database configured, using in-memory store")
		return store.NewMemory()
	}
	st, err := store.OpenPostgres(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return st
}

func runServer(cfg *config.Config) {
	log.Println("labwatch server starting...")
	gin.SetMode(gin.ReleaseMode)

	st := openStore(cfg)

	var rdb *redis.Client
	var locker ctrllock.Locker
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: redis at %s not reachable: %v", cfg.Redis.Addr, err)
		}
		cancel()
		locker = ctrllock.NewRedis(rdb)
	} else {
		log.Println("Server: no redis configured, control lock is process-local and rate limiting is off")
		locker = ctrllock.NewMemory(clockwork.NewRealClock())
	}

	registry := session.New(st)
	hub := relay.NewHub(locker, cfg.ControlTTL())
	registry.SetOnChange(hub.NotifySession)
	hub.SetOnControlGrant(func(deviceID, holderID string) {
		registry.RecordActivity(context.Background(), deviceID, holderID, domain.ActivityControlGrant, "")
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.General.DeviceToken)
	apiServer := api.NewServer(registry, hub, tokens, rdb, api.Options{
		ListenAddr:   cfg.General.ListenAddr,
		SendQueue:    cfg.Relay.SendQueue,
		AllowOrigins: cfg.Relay.AllowOrigins,
		SessionLimit: cfg.Relay.SessionLimit,
	})
	if err := apiServer.Start(); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	log.Println("labwatch server running. Press Ctrl+C to stop.")
	<-sigCh

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		log.Printf("API shutdown: %v", err)
	}
	if rdb != nil {
		rdb.Close()
	}
}

func runAgent(cfgMgr *config.Manager) {
	log.Println("labwatch agent starting...")
	cfg := cfgMgr.Get()

	if err := autostart.Apply(cfg.General.StartOnBoot, agentArgs()...); err != nil {
		log.Printf("Warning: autostart: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a := agent.New(cfgMgr)
	err := a.Start(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Agent failed to start: %v", err)
	}

	t := tray.New("Labwatch", "Labwatch agent")
	deviceItem := t.AddStatusItem("Device: connecting")
	userItem := t.AddStatusItem("User: none")
	t.AddSeparator()
	if url := a.UIURL(); url != "" {
		t.AddMenuItem("Open Status Page...", func() {
			ui.OpenBrowser(url)
		})
		t.AddSeparator()
	}
	t.AddMenuItem("Quit", func() {
		t.Stop()
	})

	states, unsubscribe := a.Bridge().Subscribe()
	defer unsubscribe()
	refresh := func(s bridge.State) {
		device, user := agent.StatusLines(s)
		t.SetItemTitle(deviceItem, device)
		t.SetItemTitle(userItem, user)
	}
	go func() {
		for s := range states {
			refresh(s)
		}
	}()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		t.Stop()
	}()

	log.Println("labwatch agent running. Press Ctrl+C to stop.")
	t.Run()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	a.Stop(stopCtx)
}
