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

// Package plugin defines the capability contract every third-party plugin
// must satisfy (spec.md §6). Together with package model, this is what the
// Isolated Loader (package isolation) treats as shared between the host namespace and every
// plugin's private namespace: a plugin's implementation is only loadable if
// it is assignable to this exact interface.
package plugin

import (
	"context"

	"github.com/TimeWtr/pluginhost/model"
)

// ModPlugin is the capability contract for a mod-aggregation plugin.
//
//go:generate mockgen -source=plugin.go -destination=plugin_mock.go -package=plugin
type ModPlugin interface {
	// PluginID returns the stable identifier, unchanged across versions.
	PluginID() string
	DisplayName() string
	Description() string
	Version() string
	Author() string

	// Enabled and SetEnabled mediate the plugin's enable flag. The kernel
	// never trusts this as the source of truth — the Security Proxy always
	// overrides it to reflect PluginSettings.Enabled (see design note in
	// spec.md §9: "the proxy's enabled reflects settings, not the raw
	// plugin").
	Enabled() bool
	SetEnabled(bool)

	// PluginDirectory and SetPluginDirectory mediate the plugin's working
	// directory. SetPluginDirectory is where the Security Proxy enforces
	// path containment (I5).
	PluginDirectory() string
	SetPluginDirectory(string) error

	// Initialize is called once after construction and again on every
	// configuration update.
	Initialize(ctx context.Context, configuration map[string]any) error

	// GetRecentMods returns a finite, non-restartable sequence of mods. It
	// may return an empty slice but must terminate.
	GetRecentMods(ctx context.Context) ([]model.Mod, error)

	// Dispose releases any resources the plugin holds.
	Dispose(ctx context.Context) error
}
