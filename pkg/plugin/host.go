package plugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-plugin"

	"github.com/meszmate/gossip/internal/logging"
)

// NotifyTimeout bounds a single event delivery
const NotifyTimeout = 5 * time.Second

// queueSize is the number of events buffered for delivery
const queueSize = 256

// Host manages plugin lifecycle
type Host struct {
	mu        sync.RWMutex
	plugins   map[string]*LoadedPlugin
	pluginDir string
	enabled   map[string]bool

	queue chan Event
}

// LoadedPlugin represents a loaded plugin
type LoadedPlugin struct {
	Name        string
	Version     string
	Description string
	Sink        Sink
	Client      *plugin.Client
}

// Handshake is the plugin handshake config
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "GOSSIP_PLUGIN",
	MagicCookieValue: "gossip",
}

// PluginMap is the plugin type map
var PluginMap = map[string]plugin.Plugin{
	"sink": &GRPCPlugin{},
}

// Serve runs impl as a plugin process. It is called from a plugin's main.
func Serve(impl Sink) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			"sink": &GRPCPlugin{Impl: impl},
		},
		GRPCServer: plugin.DefaultGRPCServer,
	})
}

// NewHost creates a new plugin host. When enabled is not empty only the
// named executables are loaded.
func NewHost(pluginDir string, enabled []string) *Host {
	h := &Host{
		plugins:   make(map[string]*LoadedPlugin),
		pluginDir: pluginDir,
		queue:     make(chan Event, queueSize),
	}
	if len(enabled) > 0 {
		h.enabled = make(map[string]bool, len(enabled))
		for _, name := range enabled {
			h.enabled[name] = true
		}
	}
	return h
}

// LoadAll loads all plugins from the plugin directory
func (h *Host) LoadAll() error {
	if h.pluginDir == "" {
		return nil
	}

	entries, err := os.ReadDir(h.pluginDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if h.enabled != nil && !h.enabled[entry.Name()] {
			continue
		}

		path := filepath.Join(h.pluginDir, entry.Name())
		if err := h.Load(path); err != nil {
			logging.Warn("Failed to load plugin %s: %v", entry.Name(), err)
		}
	}

	return nil
}

// Load loads a single plugin
func (h *Host) Load(path string) error {
	// Create the plugin client
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap,
		Cmd:             exec.Command(path),
		AllowedProtocols: []plugin.Protocol{
			plugin.ProtocolGRPC,
		},
	})

	// Connect via RPC
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to connect to plugin: %w", err)
	}

	// Request the plugin
	raw, err := rpcClient.Dispense("sink")
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to dispense plugin: %w", err)
	}

	sink, ok := raw.(Sink)
	if !ok {
		client.Kill()
		return fmt.Errorf("plugin %s is not an event sink", filepath.Base(path))
	}

	ctx, cancel := context.WithTimeout(context.Background(), NotifyTimeout)
	defer cancel()
	md, err := sink.Info(ctx)
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to initialize plugin: %w", err)
	}
	if md.Name == "" {
		md.Name = filepath.Base(path)
	}

	h.add(&LoadedPlugin{
		Name:        md.Name,
		Version:     md.Version,
		Description: md.Description,
		Sink:        sink,
		Client:      client,
	})
	logging.Info("Loaded plugin %s %s", md.Name, md.Version)
	return nil
}

func (h *Host) add(lp *LoadedPlugin) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old := h.plugins[lp.Name]; old != nil && old.Client != nil {
		old.Client.Kill()
	}
	h.plugins[lp.Name] = lp
}

// Publish queues ev for every loaded plugin. Events are dropped when the
// queue is full.
func (h *Host) Publish(ev Event) {
	select {
	case h.queue <- ev:
	default:
		logging.Warn("Plugin queue full, dropping %s event", ev.Type)
	}
}

// Run delivers queued events until ctx is done
func (h *Host) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.queue:
			h.deliver(ctx, ev)
		}
	}
}

func (h *Host) deliver(ctx context.Context, ev Event) {
	for _, lp := range h.List() {
		callCtx, cancel := context.WithTimeout(ctx, NotifyTimeout)
		err := lp.Sink.Notify(callCtx, ev)
		cancel()
		if err != nil {
			logging.WithFields(logging.Fields{"plugin": lp.Name, "event": ev.Type}).
				WithError(err).Warn("plugin notify failed")
		}
	}
}

// Unload unloads a plugin
func (h *Host) Unload(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lp := h.plugins[name]
	if lp == nil {
		return nil
	}

	if lp.Client != nil {
		lp.Client.Kill()
	}
	delete(h.plugins, name)

	return nil
}

// UnloadAll unloads all plugins
func (h *Host) UnloadAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, lp := range h.plugins {
		if lp.Client != nil {
			lp.Client.Kill()
		}
		delete(h.plugins, name)
	}
}

// List returns all loaded plugins ordered by name
func (h *Host) List() []*LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]*LoadedPlugin, 0, len(h.plugins))
	for _, lp := range h.plugins {
		result = append(result, lp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Get returns a specific plugin
func (h *Host) Get(name string) *LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.plugins[name]
}
