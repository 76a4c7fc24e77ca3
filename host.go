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

// Package pluginhost is the root facade: it wires the eight kernel
// components (registry, descriptor, settings, isolation, security,
// lifecycle, deletion, update) into a single entry point for an embedding
// mod-aggregation application.
package pluginhost

import (
	"context"
	"time"

	"github.com/TimeWtr/pluginhost/deletion"
	"github.com/TimeWtr/pluginhost/descriptor"
	"github.com/TimeWtr/pluginhost/isolation"
	"github.com/TimeWtr/pluginhost/lifecycle"
	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
	"github.com/TimeWtr/pluginhost/registry"
	"github.com/TimeWtr/pluginhost/security"
	"github.com/TimeWtr/pluginhost/settings"
	"github.com/TimeWtr/pluginhost/update"
)

// Host bundles every component over a single plugin root directory.
type Host struct {
	Root       string
	Registry   *registry.FileRegistry
	Descriptor *descriptor.Loader
	Settings   *settings.Store
	Isolation  *isolation.Loader
	Policy     *model.SecurityPolicy
	Lifecycle  *lifecycle.Manager
	Deletion   *deletion.Service
	Drift      *registry.DriftWatcher

	opLog    logx.Logger
	auditLog logx.Logger
}

// Option customizes New.
type Option func(*hostConfig)

type hostConfig struct {
	opLog    logx.Logger
	auditLog logx.Logger
	policy   *model.SecurityPolicy
	prober   descriptor.Prober
}

// WithOperationalLogger overrides the kernel's operational logging sink
// (defaults to a no-op logger; the binary entry point is expected to wire
// a *zap.Logger via logx.NewZapAdapter).
func WithOperationalLogger(l logx.Logger) Option {
	return func(c *hostConfig) { c.opLog = l }
}

// WithAuditLogger overrides the early-update service's audit sink
// (defaults to a no-op logger; the binary entry point is expected to wire
// a *logrus.Logger via logx.NewLogrusAdapter).
func WithAuditLogger(l logx.Logger) Option {
	return func(c *hostConfig) { c.auditLog = l }
}

// WithSecurityPolicy overrides the default security policy.
func WithSecurityPolicy(p *model.SecurityPolicy) Option {
	return func(c *hostConfig) { c.policy = p }
}

// WithDescriptorProber supplies the fallback instantiate-and-probe
// collaborator for plugin directories without a declarative descriptor.
func WithDescriptorProber(p descriptor.Prober) Option {
	return func(c *hostConfig) { c.prober = p }
}

// New builds a Host rooted at pluginRoot with every component wired
// together, applying the given options over the defaults.
func New(pluginRoot string, opts ...Option) *Host {
	cfg := &hostConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.opLog == nil {
		cfg.opLog = logx.NopLogger{}
	}
	if cfg.auditLog == nil {
		cfg.auditLog = logx.NopLogger{}
	}
	if cfg.policy == nil {
		cfg.policy = model.DefaultSecurityPolicy(pluginRoot)
	}

	reg := registry.New(pluginRoot, cfg.opLog)
	isoLoader := isolation.New()
	if cfg.prober == nil {
		cfg.prober = isoLoader
	}
	descLoader := descriptor.New(cfg.prober, cfg.opLog)
	store := settings.New(cfg.opLog)
	manager := lifecycle.New(pluginRoot, descLoader, store, reg, isoLoader, cfg.policy, cfg.opLog)
	delSvc := deletion.New(manager, cfg.opLog)
	drift := registry.NewDriftWatcher(reg, cfg.opLog)

	return &Host{
		Root:       pluginRoot,
		Registry:   reg,
		Descriptor: descLoader,
		Settings:   store,
		Isolation:  isoLoader,
		Policy:     cfg.policy,
		Lifecycle:  manager,
		Deletion:   delSvc,
		Drift:      drift,
		opLog:      cfg.opLog,
		auditLog:   cfg.auditLog,
	}
}

// Start discovers and loads every enabled plugin, then begins opportunistic
// drift watching.
func (h *Host) Start(ctx context.Context) error {
	if err := h.Lifecycle.Initialize(ctx); err != nil {
		return err
	}
	return h.Drift.Start()
}

// RunEarlyUpdate runs the early-update service against the given registry
// feed and installer before Start is called, per spec.md §4.H's ordering
// requirement.
func (h *Host) RunEarlyUpdate(ctx context.Context, reg update.RegistryProvider, installer update.Installer) error {
	svc := update.New(h.Root, h.Descriptor, h.Settings, reg, installer, h.auditLog)
	return svc.Run(ctx)
}

// SafeDelete tears a plugin down and reclaims its directory.
func (h *Host) SafeDelete(ctx context.Context, pluginID string, timeout time.Duration) bool {
	dir, ok := h.Lifecycle.DirOf(pluginID)
	if !ok {
		return false
	}
	return h.Deletion.SafeDelete(ctx, pluginID, dir, timeout)
}

// Shutdown tears down every loaded plugin and stops drift watching.
// Idempotent.
func (h *Host) Shutdown(ctx context.Context) {
	h.Drift.Close()
	h.Lifecycle.Shutdown(ctx)
}
