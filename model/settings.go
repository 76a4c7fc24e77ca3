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

package model

import "time"

// PluginSettings is the per-plugin persisted enable/configuration state
// (component C), stored at <pluginDir>/plugin-settings.json.
type PluginSettings struct {
	Enabled               bool           `json:"enabled"`
	Configuration         map[string]any `json:"configuration"`
	Version               string         `json:"version"`
	SchemaVersion         string         `json:"schemaVersion"`
	PreviousConfiguration map[string]any `json:"previousConfiguration,omitempty"`
	PreviousSchemaVersion string         `json:"previousSchemaVersion,omitempty"`
	LastUpdated           time.Time      `json:"lastUpdated"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// DefaultSettings returns the settings document created when a plugin has
// no prior settings file, per spec.md §4.C.
func DefaultSettings(descriptorVersion, schemaVersion string) *PluginSettings {
	return &PluginSettings{
		Enabled:       false,
		Configuration: map[string]any{},
		Version:       descriptorVersion,
		SchemaVersion: schemaVersion,
		LastUpdated:   time.Now(),
		Metadata:      map[string]any{},
	}
}

// Migrated reports whether the settings carry a rollback snapshot — this is
// invariant I4: PreviousConfiguration is non-nil iff a migration happened
// and has not since been rolled back.
func (s *PluginSettings) Migrated() bool {
	return s != nil && s.PreviousConfiguration != nil
}

// Clone returns a deep-enough copy for safe mutation by callers (the
// configuration and metadata maps are copied; nested values are not).
func (s *PluginSettings) Clone() *PluginSettings {
	if s == nil {
		return nil
	}
	out := *s
	out.Configuration = cloneMap(s.Configuration)
	out.PreviousConfiguration = cloneMap(s.PreviousConfiguration)
	out.Metadata = cloneMap(s.Metadata)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
