// Package config loads and hot-reloads the node's JSON configuration,
// grounded on the teacher's cmd/vision3 config watcher: fsnotify on the
// config file's directory, a debounce timer to collapse rapid
// successive writes, and an atomically-swapped in-memory copy.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// NodeConfig is the node's full runtime configuration.
type NodeConfig struct {
	DisplayName  string   `json:"display_name"`
	ProfileBio   string   `json:"profile_bio"`
	Capabilities []string `json:"capabilities"`
	ListenPort   int      `json:"listen_port"`
	IdentityPath string   `json:"identity_path"`
	StorePath    string   `json:"store_path"`
	SaveDir      string   `json:"save_dir"`
	// MeshPassphrase derives the well-known symmetric key that seals
	// PublicBroadcast/SOS payloads for every node on the mesh. Every
	// node must share the same value to read each other's broadcasts.
	MeshPassphrase string `json:"mesh_passphrase"`
}

// Default returns the configuration used when no file exists yet.
func Default() NodeConfig {
	return NodeConfig{
		DisplayName:    "anonymous",
		Capabilities:   []string{},
		ListenPort:     7332,
		IdentityPath:   "identity.key",
		StorePath:      "store.json",
		SaveDir:        "received",
		MeshPassphrase: "mesh-default-passphrase",
	}
}

// Load reads a NodeConfig from path, returning Default() if the file
// doesn't exist yet.
func Load(path string) (NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("INFO: config: %s not found, using defaults", path)
			return Default(), nil
		}
		return NodeConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func Save(path string, cfg NodeConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyReloadable copies the only fields a hot-reload is permitted to
// change without a restart; everything else (ports, file paths)
// requires relaunching the process.
func applyReloadable(live *NodeConfig, fresh NodeConfig) {
	live.DisplayName = fresh.DisplayName
	live.ProfileBio = fresh.ProfileBio
	live.Capabilities = fresh.Capabilities
}

// Watcher hot-reloads a subset of NodeConfig fields whenever the
// backing file changes on disk.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu       sync.RWMutex
	cfg      NodeConfig
	onChange func(NodeConfig)
}

// NewWatcher loads path and begins watching its containing write
// events for hot-reloadable changes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		done:    make(chan struct{}),
		cfg:     cfg,
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go w.watchLoop()
	return w, nil
}

// Current returns a copy of the live configuration.
func (w *Watcher) Current() NodeConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnChange registers fn to run with the freshly reloaded configuration
// after each hot-reload. Only one callback is kept; a later call
// replaces an earlier one. fn runs on the watcher's debounce goroutine,
// so it must not block or re-enter the Watcher.
func (w *Watcher) OnChange(fn func(NodeConfig)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Stop ends the watch loop and releases the underlying fsnotify handle.
func (w *Watcher) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	const debounceDuration = 500 * time.Millisecond
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&fsnotify.Write == 0 && event.Op&fsnotify.Create == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("ERROR: config: watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	fresh, err := Load(w.path)
	if err != nil {
		log.Printf("ERROR: config: reload %s failed: %v", w.path, err)
		return
	}

	w.mu.Lock()
	applyReloadable(&w.cfg, fresh)
	current := w.cfg
	onChange := w.onChange
	w.mu.Unlock()

	log.Printf("INFO: config: reloaded %s (display_name=%q)", w.path, fresh.DisplayName)

	if onChange != nil {
		onChange(current)
	}
}
