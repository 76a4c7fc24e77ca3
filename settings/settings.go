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

// Package settings implements the Settings Store & Migrator (component C):
// per-plugin persisted enable/configuration state, with schema-driven
// migration and rollback.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
)

const fileName = "plugin-settings.json"

// Store is the component C contract.
type Store struct {
	mu sync.Mutex
	l  logx.Logger
}

// New builds a settings Store.
func New(l logx.Logger) *Store {
	if l == nil {
		l = logx.NopLogger{}
	}
	return &Store{l: l}
}

func settingsPath(pluginDir string) string {
	return filepath.Join(pluginDir, fileName)
}

func (s *Store) read(pluginDir string) (*model.PluginSettings, error) {
	data, err := os.ReadFile(settingsPath(pluginDir))
	if err != nil {
		return nil, err
	}
	var cfg model.PluginSettings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) write(pluginDir string, settings *model.PluginSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(settingsPath(pluginDir), data, 0o644)
}

// Write persists settings verbatim, bypassing migration. Callers that have
// already reconciled version/schemaVersion themselves (the early-update
// service, after restoring enable state post-install) use this instead of
// Load.
func (s *Store) Write(pluginDir string, settings *model.PluginSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(pluginDir, settings)
}

// Load implements the read path of spec.md §4.C: missing file creates
// defaults; a version/schemaVersion drift against the descriptor triggers a
// migration before the settings are returned.
func (s *Store) Load(pluginDir string, desc *model.PluginDescriptor) (*model.PluginSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(pluginDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.l.Warn("failed to read settings, recreating defaults",
				logx.StringField("dir", pluginDir), logx.ErrorField(err))
		}
		schemaVersion := ""
		if desc.Configuration != nil && desc.Configuration.Schema != nil {
			schemaVersion = desc.Configuration.Schema.Version
		}
		defaults := model.DefaultSettings(desc.Version, schemaVersion)
		if err := s.write(pluginDir, defaults); err != nil {
			return nil, err
		}
		return defaults, nil
	}

	schemaVersion := ""
	if desc.Configuration != nil && desc.Configuration.Schema != nil {
		schemaVersion = desc.Configuration.Schema.Version
	}

	if current.Version == desc.Version && current.SchemaVersion == schemaVersion {
		return current, nil
	}

	migrated, err := s.migrate(current, desc, schemaVersion)
	if err != nil {
		return nil, err
	}
	if err := s.write(pluginDir, migrated); err != nil {
		return nil, err
	}
	return migrated, nil
}

// migrate implements spec.md §4.C's three-step migration: snapshot, coerce
// each schema property, advance versions.
func (s *Store) migrate(current *model.PluginSettings, desc *model.PluginDescriptor, newSchemaVersion string) (*model.PluginSettings, error) {
	out := current.Clone()
	out.PreviousConfiguration = cloneConfig(current.Configuration)
	out.PreviousSchemaVersion = current.SchemaVersion

	newConfig := map[string]any{}
	if desc.Configuration != nil && desc.Configuration.Schema != nil {
		for name, prop := range desc.Configuration.Schema.Properties {
			if old, had := current.Configuration[name]; had {
				coerced, err := coerce(old, prop.Type)
				if err != nil {
					if prop.Default != nil {
						newConfig[name] = prop.Default
					}
					s.l.Warn("migration coercion failed, using default",
						logx.StringField("pluginId", desc.PluginID),
						logx.StringField("property", name), logx.ErrorField(err))
					continue
				}
				newConfig[name] = coerced
				continue
			}
			if prop.Default != nil {
				newConfig[name] = prop.Default
			}
		}
	}

	out.Configuration = newConfig
	out.Version = desc.Version
	out.SchemaVersion = newSchemaVersion
	out.LastUpdated = time.Now()
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	out.Metadata["lastMigration"] = time.Now().Format(time.RFC3339)
	return out, nil
}

func cloneConfig(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// coerce applies spec.md §4.C's type coercion policy.
func coerce(v any, t model.PropertyType) (any, error) {
	switch t {
	case model.PropertyString:
		return fmt.Sprintf("%v", v), nil

	case model.PropertyBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("not a boolean string: %q", x)
			}
			return b, nil
		case int:
			return x != 0, nil
		case int64:
			return x != 0, nil
		case float64:
			return x != 0, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to boolean", v)
		}

	case model.PropertyInteger:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			return int(x), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("not an integer string: %q", x)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to integer", v)
		}

	case model.PropertyNumber:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("not a numeric string: %q", x)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to number", v)
		}

	case model.PropertyArray:
		if arr, ok := v.([]any); ok {
			return arr, nil
		}
		return []any{}, nil

	case model.PropertyObject:
		if obj, ok := v.(map[string]any); ok {
			return obj, nil
		}
		return map[string]any{}, nil

	default:
		return nil, fmt.Errorf("unknown property type %q", t)
	}
}

// Rollback swaps previousConfiguration back into configuration. Fails
// cleanly (returns an error, settings file untouched) if no snapshot
// exists.
func (s *Store) Rollback(pluginDir string) (*model.PluginSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(pluginDir)
	if err != nil {
		return nil, err
	}
	if !current.Migrated() {
		return nil, fmt.Errorf("no migration snapshot to roll back for %q", pluginDir)
	}

	current.Configuration = current.PreviousConfiguration
	current.SchemaVersion = current.PreviousSchemaVersion
	current.PreviousConfiguration = nil
	current.PreviousSchemaVersion = ""
	current.LastUpdated = time.Now()
	if current.Metadata == nil {
		current.Metadata = map[string]any{}
	}
	current.Metadata["lastRollback"] = time.Now().Format(time.RFC3339)

	if err := s.write(pluginDir, current); err != nil {
		return nil, err
	}
	return current, nil
}

// Validate reports whether every schema-required property is present in
// the persisted configuration.
func (s *Store) Validate(pluginDir string, desc *model.PluginDescriptor) bool {
	s.mu.Lock()
	current, err := s.read(pluginDir)
	s.mu.Unlock()
	if err != nil {
		s.l.Warn("validate: cannot read settings", logx.StringField("dir", pluginDir), logx.ErrorField(err))
		return false
	}
	if desc.Configuration == nil || desc.Configuration.Schema == nil {
		return true
	}
	for _, req := range desc.Configuration.Schema.Required {
		if _, ok := current.Configuration[req]; !ok {
			s.l.Info("validate: missing required property",
				logx.StringField("pluginId", desc.PluginID), logx.StringField("property", req))
			return false
		}
	}
	return true
}

// HasConfigurableSettings reports whether the descriptor's schema declares
// at least one property. As a side effect it ensures a settings file
// exists, per spec.md §4.C.
func (s *Store) HasConfigurableSettings(pluginDir string, desc *model.PluginDescriptor) bool {
	if _, err := s.Load(pluginDir, desc); err != nil {
		s.l.Warn("hasConfigurableSettings: failed to ensure settings file",
			logx.StringField("dir", pluginDir), logx.ErrorField(err))
	}
	return desc.HasSchema()
}
