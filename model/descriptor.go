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

// Package model holds the on-disk and in-memory record types shared across
// every kernel component: descriptors, integrity records, settings, the
// security policy and the mod record exchanged with plugins.
package model

// PluginDescriptor is parsed once from a plugin directory's declarative
// descriptor (plugin.json, or a sibling .yaml/.toml file).
type PluginDescriptor struct {
	PluginID       string             `json:"pluginId" yaml:"pluginId" toml:"pluginId"`
	DisplayName    string             `json:"displayName,omitempty" yaml:"displayName,omitempty" toml:"displayName,omitempty"`
	Description    string             `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Author         string             `json:"author,omitempty" yaml:"author,omitempty" toml:"author,omitempty"`
	Version        string             `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	CodeObjectName string             `json:"assemblyName" yaml:"assemblyName" toml:"assemblyName"`
	MainTypeName   string             `json:"mainClass" yaml:"mainClass" toml:"mainClass"`
	Configuration  *ConfigurationSpec `json:"configuration,omitempty" yaml:"configuration,omitempty" toml:"configuration,omitempty"`
	Dependencies   []string           `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies,omitempty"`
	Permissions    []string           `json:"permissions,omitempty" yaml:"permissions,omitempty" toml:"permissions,omitempty"`
	Tags           []string           `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`
	Category       string             `json:"category,omitempty" yaml:"category,omitempty" toml:"category,omitempty"`
}

// ConfigurationSpec wraps the descriptor's configuration schema block.
type ConfigurationSpec struct {
	Schema *Schema `json:"schema,omitempty" yaml:"schema,omitempty" toml:"schema,omitempty"`
}

// Schema is a per-plugin configuration schema used by the settings migrator
// (component C) and the validator.
type Schema struct {
	Version    string              `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Properties map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty" toml:"properties,omitempty"`
	Required   []string            `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
}

// PropertyType enumerates the coercion-relevant JSON-value shapes a schema
// property can declare.
type PropertyType string

const (
	PropertyString  PropertyType = "string"
	PropertyBoolean PropertyType = "boolean"
	PropertyInteger PropertyType = "integer"
	PropertyNumber  PropertyType = "number"
	PropertyArray   PropertyType = "array"
	PropertyObject  PropertyType = "object"
)

// Property describes one configuration key in a plugin's schema.
type Property struct {
	Type    PropertyType `json:"type" yaml:"type" toml:"type"`
	Default any          `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
}

// Valid reports whether the descriptor carries the three required fields
// (pluginId, codeObjectName, mainTypeName) per spec.md §4.B.
func (d *PluginDescriptor) Valid() bool {
	return d != nil && d.PluginID != "" && d.CodeObjectName != "" && d.MainTypeName != ""
}

// HasSchema reports whether the descriptor declares at least one
// configuration property (used by settings.HasConfigurableSettings).
func (d *PluginDescriptor) HasSchema() bool {
	return d != nil && d.Configuration != nil && d.Configuration.Schema != nil &&
		len(d.Configuration.Schema.Properties) > 0
}
