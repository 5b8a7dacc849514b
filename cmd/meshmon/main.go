// Command meshmon is a read-only operator dashboard for a mesh node: it
// joins the mesh with its own identity purely as an observer and
// renders peer and router health in a terminal UI. It never submits a
// message-sending, file-sending, or profile-mutating command.
//
// Flag-based startup mirrors cmd/meshnode; the bubbletea wiring mirrors
// cmd/strings and cmd/config's tea.NewProgram(model, tea.WithAltScreen()).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/meshnet/node/internal/config"
	"github.com/meshnet/node/internal/identity"
	"github.com/meshnet/node/internal/meshmon"
	"github.com/meshnet/node/internal/node"
	"github.com/meshnet/node/internal/storage/jsonstore"
)

func main() {
	var (
		dataDir    = flag.String("data-dir", ".", "directory holding the target mesh's config file")
		configName = flag.String("config", "node.json", "config file name, resolved relative to -data-dir, for the mesh passphrase and listen port to observe")
		listenPort = flag.Uint("stream-port", 0, "stream transport port to bind for the monitor's own connection (0 = the config's listen_port + 900)")
	)
	flag.Parse()

	cfg, err := config.Load(filepath.Join(*dataDir, *configName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshmon: load config: %v\n", err)
		os.Exit(1)
	}

	port := uint16(cfg.ListenPort) + 900
	if *listenPort != 0 {
		port = uint16(*listenPort)
	}

	monitorDir := filepath.Join(*dataDir, ".meshmon")
	if err := os.MkdirAll(monitorDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "meshmon: create state dir: %v\n", err)
		os.Exit(1)
	}

	self, err := identity.LoadOrCreate(filepath.Join(monitorDir, "monitor.key"), "meshmon")
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshmon: load identity: %v\n", err)
		os.Exit(1)
	}

	store, err := jsonstore.Open(filepath.Join(monitorDir, "store.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshmon: open store: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orc, err := node.New(ctx, node.Config{
		Identity:       self,
		ListenPort:     port,
		ProfileBio:     "mesh status observer",
		Capabilities:   []string{"monitor"},
		MeshPassphrase: cfg.MeshPassphrase,
		SaveDir:        filepath.Join(monitorDir, "received"),
		IdentityPath:   filepath.Join(monitorDir, "monitor.key"),
		Store:          store,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshmon: construct observer node: %v\n", err)
		os.Exit(1)
	}

	go orc.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		orc.Stop()
		cancel()
	}()

	p := tea.NewProgram(meshmon.New(orc, self.DisplayName), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "meshmon: %v\n", err)
		orc.Stop()
		os.Exit(1)
	}

	orc.Stop()
}
