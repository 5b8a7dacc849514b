// Command meshnode starts one mesh participant: it loads or creates a
// node identity, loads its JSON configuration (with hot reload), wires
// the orchestrator, and runs until an interrupt signal arrives.
//
// Flag-based startup and signal-driven shutdown are grounded on
// cmd/vision3/main.go's own flag.Parse/config-load/listener-start
// sequence, adapted from a BBS session server to a single mesh node.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/meshnet/node/internal/config"
	"github.com/meshnet/node/internal/identity"
	"github.com/meshnet/node/internal/node"
	"github.com/meshnet/node/internal/scheduler"
	"github.com/meshnet/node/internal/storage"
	"github.com/meshnet/node/internal/storage/jsonstore"
)

func main() {
	var (
		dataDir    = flag.String("data-dir", ".", "directory holding identity, config and store files")
		configName = flag.String("config", "node.json", "config file name, resolved relative to -data-dir")
		listenPort = flag.Uint("stream-port", 0, "override the stream transport listen port (0 = use config)")
	)
	flag.Parse()

	log.SetOutput(os.Stderr)
	log.Println("INFO: meshnode: starting")

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("FATAL: meshnode: create data dir %s: %v", *dataDir, err)
	}

	configPath := filepath.Join(*dataDir, *configName)
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		log.Fatalf("FATAL: meshnode: load config %s: %v", configPath, err)
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	if *listenPort != 0 {
		cfg.ListenPort = int(*listenPort)
	}
	if cfg.IdentityPath == "" {
		cfg.IdentityPath = "identity.key"
	}
	identityPath := resolvePath(*dataDir, cfg.IdentityPath)
	storePath := resolvePath(*dataDir, cfg.StorePath)
	saveDir := resolvePath(*dataDir, cfg.SaveDir)
	if err := os.MkdirAll(saveDir, 0755); err != nil {
		log.Fatalf("FATAL: meshnode: create save dir %s: %v", saveDir, err)
	}

	self, err := identity.LoadOrCreate(identityPath, cfg.DisplayName)
	if err != nil {
		log.Fatalf("FATAL: meshnode: load identity %s: %v", identityPath, err)
	}
	log.Printf("INFO: meshnode: identity %s (%s)", self.NodeID.ShortString(), self.DisplayName)

	store, err := jsonstore.Open(storePath)
	if err != nil {
		log.Fatalf("FATAL: meshnode: open store %s: %v", storePath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orc, err := node.New(ctx, node.Config{
		Identity:       self,
		ListenPort:     uint16(cfg.ListenPort),
		ProfileBio:     cfg.ProfileBio,
		Capabilities:   cfg.Capabilities,
		MeshPassphrase: cfg.MeshPassphrase,
		SaveDir:        saveDir,
		IdentityPath:   identityPath,
		Store:          store,
	})
	if err != nil {
		log.Fatalf("FATAL: meshnode: construct orchestrator: %v", err)
	}

	watcher.OnChange(func(fresh config.NodeConfig) {
		orc.Submit(node.CmdUpdateProfile{
			Name:         fresh.DisplayName,
			Bio:          fresh.ProfileBio,
			Capabilities: fresh.Capabilities,
		})
	})

	historyPath := filepath.Join(*dataDir, "scheduler_history.json")
	sched := scheduler.NewScheduler(maintenanceJobs(store, orc), historyPath, 2)
	schedCtx, schedCancel := context.WithCancel(context.Background())
	go sched.Start(schedCtx)
	defer schedCancel()

	go logEvents(orc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("INFO: meshnode: received %s, shutting down", sig)
		orc.Stop()
	}()

	log.Printf("INFO: meshnode: listening on :%d, mesh running. Press Ctrl+C to stop.", cfg.ListenPort)
	orc.Run(ctx)
	log.Println("INFO: meshnode: stopped")
}

// resolvePath joins a relative path onto dataDir; an already-absolute
// path (or one the caller deliberately rooted elsewhere) passes through.
func resolvePath(dataDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}

func logEvents(orc *node.Orchestrator) {
	for ev := range orc.Events() {
		switch e := ev.(type) {
		case node.EventStarted:
			log.Printf("INFO: meshnode: started as %s", e.NodeID.ShortString())
		case node.EventPeerConnected:
			log.Printf("INFO: meshnode: peer connected %s (%s)", e.NodeID.ShortString(), e.DisplayName)
		case node.EventPeerDisconnected:
			log.Printf("INFO: meshnode: peer disconnected %s", e.NodeID.ShortString())
		case node.EventGatewayFound:
			log.Printf("INFO: meshnode: gateway reachable via %s", e.NodeID.ShortString())
		case node.EventGatewayLost:
			log.Printf("INFO: meshnode: gateway lost via %s", e.NodeID.ShortString())
		case node.EventNuked:
			log.Printf("WARN: meshnode: local state wiped on operator request")
		case node.EventStopped:
			return
		default:
			// message/file/call/group events are consumed by a UI or FFI
			// layer; meshnode itself only logs lifecycle transitions.
		}
	}
}

// maintenanceJobs mirrors the teacher's scheduler wiring: a small set of
// named, independently-scheduled background jobs rather than bespoke
// goroutines for each. The orchestrator's own heartbeat and
// gateway-probe tickers are unrelated; these are storage and router
// seen-cache upkeep.
func maintenanceJobs(store storage.Store, orc *node.Orchestrator) []scheduler.Job {
	return []scheduler.Job{
		{
			ID:       "expire-disappearing-messages",
			Schedule: "@every 1m",
			Run: func() error {
				n, err := store.DeleteExpired(time.Now())
				if err != nil {
					return err
				}
				if n > 0 {
					log.Printf("INFO: meshnode: expired %d disappearing message(s)", n)
				}
				return nil
			},
		},
		{
			ID:       "cleanup-router-seen-cache",
			Schedule: "@every 1m",
			Run: func() error {
				orc.CleanupRouter()
				return nil
			},
		},
	}
}
