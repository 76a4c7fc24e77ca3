// Copyright 2025 TimeWtr
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lifecycle implements the Lifecycle Manager (component F): the
// facade that discovers, loads, enables/disables, reconfigures, and fans
// queries out across every plugin.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TimeWtr/pluginhost/descriptor"
	"github.com/TimeWtr/pluginhost/isolation"
	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
	"github.com/TimeWtr/pluginhost/plugin"
	"github.com/TimeWtr/pluginhost/registry"
	"github.com/TimeWtr/pluginhost/security"
	"github.com/TimeWtr/pluginhost/settings"
)

// Proxy is the narrow slice of security.Proxy the manager depends on,
// named here to avoid the lifecycle package importing security's
// construction details beyond what it wraps.
type Proxy interface {
	plugin.ModPlugin
}

// loaded is the live-set entry for one plugin: its mediated proxy plus the
// isolation handle needed to tear it down.
type loaded struct {
	proxy  *security.Proxy
	handle *isolation.Handle
	dir    string
}

// Manager is the component F contract.
type Manager struct {
	pluginRoot string
	descLoader *descriptor.Loader
	settings   *settings.Store
	reg        registry.Registry
	isoLoader  *isolation.Loader
	policy     *model.SecurityPolicy
	l          logx.Logger

	mu     sync.Mutex // guards live, descs
	loadMu sync.Mutex // serializes the whole register/unregister protocol per spec.md I6
	live   map[string]*loaded
	descs  map[string]*model.PluginDescriptor
}

// New builds a Manager rooted at pluginRoot.
func New(pluginRoot string, descLoader *descriptor.Loader, store *settings.Store, reg registry.Registry,
	isoLoader *isolation.Loader, policy *model.SecurityPolicy, l logx.Logger) *Manager {
	if l == nil {
		l = logx.NopLogger{}
	}
	return &Manager{
		pluginRoot: pluginRoot,
		descLoader: descLoader,
		settings:   store,
		reg:        reg,
		isoLoader:  isoLoader,
		policy:     policy,
		l:          l,
		live:       map[string]*loaded{},
		descs:      map[string]*model.PluginDescriptor{},
	}
}

// Initialize discovers every plugin directory under pluginRoot and loads
// the enabled ones. Per-plugin failures are logged and skipped; they never
// abort discovery of the remaining plugins.
func (m *Manager) Initialize(ctx context.Context) error {
	entries, err := os.ReadDir(m.pluginRoot)
	if err != nil {
		return fmt.Errorf("read plugin root %q: %w", m.pluginRoot, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pluginDir := filepath.Join(m.pluginRoot, e.Name())

		desc, ok := m.descLoader.Load(pluginDir)
		if !ok {
			continue
		}

		m.mu.Lock()
		m.descs[desc.PluginID] = desc
		m.mu.Unlock()

		st, err := m.settings.Load(pluginDir, desc)
		if err != nil {
			m.l.Warn("failed to load settings", logx.StringField("pluginId", desc.PluginID), logx.ErrorField(err))
			continue
		}
		if !st.Enabled {
			continue
		}

		m.loadMu.Lock()
		err = m.loadOne(ctx, desc, pluginDir)
		m.loadMu.Unlock()
		if err != nil {
			m.l.Warn("failed to load plugin", logx.StringField("pluginId", desc.PluginID), logx.ErrorField(err))
		}
	}
	return nil
}

// loadOne implements the six-step load protocol of spec.md §4.F.
func (m *Manager) loadOne(ctx context.Context, desc *model.PluginDescriptor, pluginDir string) error {
	start := time.Now()
	codePath := filepath.Join(pluginDir, desc.CodeObjectName)

	rec, err := m.reg.Register(desc, codePath)
	if err != nil {
		return &model.IntegrityError{PluginID: desc.PluginID, Status: model.StatusCorrupted, Cause: err}
	}
	if rec.Status == model.StatusMissing || rec.Status == model.StatusCorrupted {
		_ = m.reg.RecordLoad(desc.PluginID, false, fmt.Errorf("integrity status %s", rec.Status), 0)
		return &model.IntegrityError{PluginID: desc.PluginID, Status: rec.Status}
	}

	st, err := m.settings.Load(pluginDir, desc)
	if err != nil {
		_ = m.reg.RecordLoad(desc.PluginID, false, err, 0)
		return &model.MigrationError{PluginID: desc.PluginID, Cause: err}
	}

	handle, ok := m.isoLoader.Load(codePath, desc.MainTypeName, pluginDir)
	if !ok {
		_ = m.reg.RecordLoad(desc.PluginID, false, fmt.Errorf("no viable constructor"), 0)
		return &model.LoadError{PluginID: desc.PluginID, Cause: fmt.Errorf("no viable constructor for %q", desc.MainTypeName)}
	}

	proxy := security.New(desc.PluginID, handle.Instance, m.policy, st.Enabled, m.l)

	if err := proxy.Initialize(ctx, st.Configuration); err != nil {
		handle.Dispose()
		_ = m.reg.RecordLoad(desc.PluginID, false, err, time.Since(start))
		return &model.LoadError{PluginID: desc.PluginID, Cause: err}
	}

	m.mu.Lock()
	m.live[desc.PluginID] = &loaded{proxy: proxy, handle: handle, dir: pluginDir}
	m.mu.Unlock()

	_ = m.reg.RecordLoad(desc.PluginID, true, nil, time.Since(start))
	return nil
}

// GetAvailable returns every discovered descriptor. The result carries no
// load state; GetAll and Get report which plugins are currently loaded.
func (m *Manager) GetAvailable() []*model.PluginDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.PluginDescriptor, 0, len(m.descs))
	for _, d := range m.descs {
		out = append(out, d)
	}
	return out
}

// SetEnabled persists the enable flag and loads or unregisters accordingly.
// The whole read-settings/load-or-unregister sequence runs as one critical
// section under loadMu (spec.md I1, I6): two concurrent SetEnabled calls for
// the same pluginID can no longer both observe wasEnabled=false and both
// load a second, clobbering instance.
func (m *Manager) SetEnabled(ctx context.Context, pluginID string, enabled bool) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.Lock()
	desc, ok := m.descs[pluginID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %q not known", pluginID)
	}

	pluginDir := filepath.Join(m.pluginRoot, pluginID)
	st, err := m.settings.Load(pluginDir, desc)
	if err != nil {
		return err
	}
	wasEnabled := st.Enabled
	st.Enabled = enabled
	if err := m.settings.Write(pluginDir, st); err != nil {
		return err
	}

	if enabled && !wasEnabled {
		if err := m.loadOne(ctx, desc, pluginDir); err != nil {
			return err
		}
	} else if !enabled && wasEnabled {
		m.unregisterLocked(ctx, pluginID)
	}
	return nil
}

// UpdateConfiguration persists configuration and, if the plugin is
// currently loaded, re-initializes it.
func (m *Manager) UpdateConfiguration(ctx context.Context, pluginID string, configuration map[string]any) error {
	m.mu.Lock()
	desc, ok := m.descs[pluginID]
	entry, isLoaded := m.live[pluginID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %q not known", pluginID)
	}

	pluginDir := filepath.Join(m.pluginRoot, pluginID)
	st, err := m.settings.Load(pluginDir, desc)
	if err != nil {
		return err
	}
	st.Configuration = configuration
	if err := m.settings.Write(pluginDir, st); err != nil {
		return err
	}

	if isLoaded {
		return entry.proxy.Initialize(ctx, configuration)
	}
	return nil
}

// Register inserts an already-built handle into the live set (used by
// callers that build a Handle outside the standard load protocol, e.g.
// tests).
func (m *Manager) Register(pluginID string, proxy *security.Proxy, handle *isolation.Handle, dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[pluginID] = &loaded{proxy: proxy, handle: handle, dir: dir}
}

// Unregister disposes the plugin's proxy and isolation handle and drops it
// from the live set. Idempotent. Runs under loadMu so it cannot interleave
// with a concurrent SetEnabled/loadOne for the same or any other plugin.
func (m *Manager) Unregister(ctx context.Context, pluginID string) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	m.unregisterLocked(ctx, pluginID)
}

// unregisterLocked is Unregister's body, callable by holders of loadMu
// (SetEnabled) without re-entering the mutex.
func (m *Manager) unregisterLocked(ctx context.Context, pluginID string) {
	m.mu.Lock()
	entry, ok := m.live[pluginID]
	if ok {
		delete(m.live, pluginID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	disposeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_ = entry.proxy.Dispose(disposeCtx)
	entry.handle.Dispose()
}

// GetAll returns every currently loaded plugin's proxy.
func (m *Manager) GetAll() map[string]*security.Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*security.Proxy, len(m.live))
	for id, e := range m.live {
		out[id] = e.proxy
	}
	return out
}

// GetEnabled returns every loaded plugin whose proxy reports Enabled.
func (m *Manager) GetEnabled() map[string]*security.Proxy {
	out := map[string]*security.Proxy{}
	for id, p := range m.GetAll() {
		if p.Enabled() {
			out[id] = p
		}
	}
	return out
}

// Get returns the loaded proxy for pluginID, if any.
func (m *Manager) Get(pluginID string) (*security.Proxy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live[pluginID]
	if !ok {
		return nil, false
	}
	return e.proxy, true
}

// DirOf returns the on-disk directory for a loaded plugin.
func (m *Manager) DirOf(pluginID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live[pluginID]
	if !ok {
		return "", false
	}
	return e.dir, true
}

// GetAllRecentMods fans out to every enabled plugin concurrently, tags
// each record with its source plugin, deduplicates by canonical URL
// (keeping the first occurrence; cross-plugin ordering is not
// deterministic per spec.md §9), and tolerates per-plugin failure.
func (m *Manager) GetAllRecentMods(ctx context.Context) ([]model.Mod, error) {
	enabled := m.GetEnabled()

	type result struct {
		pluginID string
		mods     []model.Mod
	}
	results := make([]result, len(enabled))

	ids := make([]string, 0, len(enabled))
	for id := range enabled {
		ids = append(ids, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		proxy := enabled[id]
		g.Go(func() error {
			mods, err := proxy.GetRecentMods(gctx)
			if err != nil {
				m.l.Warn("getAllRecentMods: plugin failed, tolerating",
					logx.StringField("pluginId", id), logx.ErrorField(err))
				results[i] = result{pluginID: id}
				return nil
			}
			results[i] = result{pluginID: id, mods: mods}
			return nil
		})
	}
	_ = g.Wait()

	seen := map[string]struct{}{}
	out := make([]model.Mod, 0)
	for _, r := range results {
		for _, mod := range r.mods {
			mod.PluginSource = r.pluginID
			key := mod.ModURL
			if key == "" {
				key = fmt.Sprintf("%s|%s|%s", r.pluginID, mod.Name, mod.Version)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, mod)
		}
	}
	return out, nil
}

// Shutdown disposes every loaded plugin with a 30-second overall budget.
// Idempotent.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, id := range ids {
		m.Unregister(shutdownCtx, id)
	}
}
