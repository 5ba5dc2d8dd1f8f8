// Thread-safe configuration store with dynamic update and hot-reload
// propagation, backing the iomux and gang options tables of spec.md §6.

package control

import (
	"sync"

	"github.com/clustercore/batchcore/gang"
	"github.com/clustercore/batchcore/iomux"
)

const (
	keyIOMuxOptions = "iomux.options"
	keyGangOptions  = "gang.options"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	copy := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		copy[k] = v
	}
	return copy
}

// SetConfig merges new values and dispatches reload if needed.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.dispatchReload()
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners.
func (cs *ConfigStore) dispatchReload() {
	for _, fn := range cs.listeners {
		go fn()
	}
}

// reloadHooks holds process-wide reload listeners, distinct from a single
// ConfigStore's own OnReload listeners: a SIGHUP in batchganged needs to
// reach the gang.Scheduler directly rather than through any one store's
// config map, since Reconfig re-reads the partition/job/topology snapshot
// rather than a config key.
var reloadHooks []func()

// RegisterReloadHook adds a process-wide reload listener.
func RegisterReloadHook(fn func()) {
	reloadHooks = append(reloadHooks, fn)
}

// TriggerHotReload dispatches all process-wide reload hooks asynchronously,
// mirroring ConfigStore.dispatchReload's fire-and-forget shape.
func TriggerHotReload() {
	for _, fn := range reloadHooks {
		go fn()
	}
}

// TriggerHotReloadSync invokes all process-wide reload hooks synchronously,
// so a caller like batchganged's SIGHUP handler can log reconfig errors
// from the hook itself before moving on to the next signal.
func TriggerHotReloadSync() {
	for _, fn := range reloadHooks {
		fn()
	}
}

// SetIOMuxOptions stores the IO-MUX daemon's live options (spec.md §6's
// MaxPayload/NIn/NOut/MaxMsgCache/BufferedStdio table) and dispatches
// reload, so a SIGHUP handler can push a re-derived Options value
// through the same path used for untyped config.
func (cs *ConfigStore) SetIOMuxOptions(opts iomux.Options) {
	cs.SetConfig(map[string]any{keyIOMuxOptions: opts})
}

// IOMuxOptions returns the last IOMux Options stored via
// SetIOMuxOptions, or ok=false if none has been set yet.
func (cs *ConfigStore) IOMuxOptions() (opts iomux.Options, ok bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, present := cs.config[keyIOMuxOptions]
	if !present {
		return iomux.Options{}, false
	}
	opts, ok = v.(iomux.Options)
	return opts, ok
}

// SetGangOptions stores the gang scheduler daemon's live options
// (granularity, timeslice, fast-schedule) and dispatches reload.
func (cs *ConfigStore) SetGangOptions(opts gang.Options) {
	cs.SetConfig(map[string]any{keyGangOptions: opts})
}

// GangOptions returns the last gang Options stored via SetGangOptions,
// or ok=false if none has been set yet.
func (cs *ConfigStore) GangOptions() (opts gang.Options, ok bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, present := cs.config[keyGangOptions]
	if !present {
		return gang.Options{}, false
	}
	opts, ok = v.(gang.Options)
	return opts, ok
}
