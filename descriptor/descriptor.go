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

// Package descriptor implements the Descriptor Loader (component B): load a
// plugin's declarative manifest from its directory, falling back to
// instantiate-and-probe when no manifest is present.
package descriptor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
)

// ParseType selects which of the three descriptor encodings to use. A
// plugin directory is checked for each candidate file name in turn.
type ParseType string

const (
	ParseTypeJSON ParseType = "JSON"
	ParseTypeYAML ParseType = "YAML"
	ParseTypeTOML ParseType = "TOML"
)

func (p ParseType) fileName() string {
	switch p {
	case ParseTypeYAML:
		return "plugin.yaml"
	case ParseTypeTOML:
		return "plugin.toml"
	default:
		return "plugin.json"
	}
}

var candidateOrder = []ParseType{ParseTypeJSON, ParseTypeYAML, ParseTypeTOML}

func parseJSON(data []byte) (model.PluginDescriptor, error) {
	var d model.PluginDescriptor
	err := json.Unmarshal(data, &d)
	return d, err
}

func parseYaml(data []byte) (model.PluginDescriptor, error) {
	var d model.PluginDescriptor
	err := yaml.Unmarshal(data, &d)
	return d, err
}

func parseToml(data []byte) (model.PluginDescriptor, error) {
	var d model.PluginDescriptor
	err := toml.Unmarshal(data, &d)
	return d, err
}

func parseBy(parseType ParseType, data []byte) (model.PluginDescriptor, error) {
	switch parseType {
	case ParseTypeYAML:
		return parseYaml(data)
	case ParseTypeTOML:
		return parseToml(data)
	default:
		return parseJSON(data)
	}
}

// Prober is the throwaway-isolated-loader fallback used when a plugin
// directory carries no declarative descriptor. It is satisfied by the
// isolation package's loader; kept as an interface here so that this
// package does not import isolation.
type Prober interface {
	// Probe attempts to construct a viable plugin instance from
	// codeObjectPath and report whether it implements the capability. On
	// success it returns the inferred main type name and disposes the
	// throwaway instance itself.
	Probe(codeObjectPath string) (mainTypeName string, ok bool)
}

// Loader is the component B contract.
type Loader struct {
	l      logx.Logger
	prober Prober
}

// New builds a Loader. prober may be nil, in which case the fallback scan
// step (spec.md §4.B order-of-attempts step 2) is skipped and only
// declarative descriptors are recognized.
func New(prober Prober, l logx.Logger) *Loader {
	if l == nil {
		l = logx.NopLogger{}
	}
	return &Loader{l: l, prober: prober}
}

// Load implements the two-step contract: try a declarative descriptor file
// first; on any failure, fall back to instantiate-and-probe. Every failure
// is logged and yields (nil, false) — never an error that crosses out of
// this call, matching spec.md §4.B.
func (d *Loader) Load(pluginDir string) (*model.PluginDescriptor, bool) {
	if desc, ok := d.loadDeclarative(pluginDir); ok {
		return desc, true
	}
	if d.prober == nil {
		return nil, false
	}
	return d.loadByProbe(pluginDir)
}

func (d *Loader) loadDeclarative(pluginDir string) (*model.PluginDescriptor, bool) {
	for _, pt := range candidateOrder {
		path := filepath.Join(pluginDir, pt.fileName())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		desc, err := parseBy(pt, data)
		if err != nil {
			d.l.Warn("malformed plugin descriptor",
				logx.StringField("path", path), logx.ErrorField(err))
			return nil, false
		}

		if err := d.validateDeclarative(pluginDir, &desc); err != nil {
			d.l.Warn("invalid plugin descriptor",
				logx.StringField("path", path), logx.ErrorField(err))
			return nil, false
		}
		return &desc, true
	}
	return nil, false
}

func (d *Loader) validateDeclarative(pluginDir string, desc *model.PluginDescriptor) error {
	if desc.PluginID == "" {
		return fmt.Errorf("missing pluginId")
	}
	if desc.CodeObjectName == "" {
		return fmt.Errorf("missing assemblyName")
	}
	if desc.MainTypeName == "" {
		return fmt.Errorf("missing mainClass")
	}
	codePath := filepath.Join(pluginDir, desc.CodeObjectName)
	if _, err := os.Stat(codePath); err != nil {
		return fmt.Errorf("code object %q: %w", codePath, err)
	}
	return nil
}

// loadByProbe implements step 2 of spec.md §4.B: scan code objects in the
// directory, and accept the first that an isolated loader reports as
// implementing the plugin capability.
func (d *Loader) loadByProbe(pluginDir string) (*model.PluginDescriptor, bool) {
	entries, err := os.ReadDir(pluginDir)
	if err != nil {
		d.l.Warn("cannot scan plugin directory", logx.StringField("dir", pluginDir), logx.ErrorField(err))
		return nil, false
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".so" && ext != ".dll" && ext != ".bin" {
			continue
		}

		codePath := filepath.Join(pluginDir, e.Name())
		mainType, ok := d.prober.Probe(codePath)
		if !ok {
			continue
		}

		pluginID := pluginIDFromDir(pluginDir)
		return &model.PluginDescriptor{
			PluginID:       pluginID,
			DisplayName:    pluginID,
			Version:        "0.0.0",
			CodeObjectName: e.Name(),
			MainTypeName:   mainType,
		}, true
	}

	d.l.Info("no descriptor and no probe-viable code object", logx.StringField("dir", pluginDir))
	return nil, false
}

func pluginIDFromDir(pluginDir string) string {
	return filepath.Base(filepath.Clean(pluginDir))
}
