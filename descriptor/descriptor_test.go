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

package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimeWtr/pluginhost/logx"
)

const jsonContent = `{
  "pluginId": "modtrack",
  "displayName": "ModTrack",
  "description": "tracks recent mods",
  "author": "acme",
  "version": "1.2.0",
  "assemblyName": "modtrack.bin",
  "mainClass": "ModTrackPlugin",
  "configuration": {
    "schema": {
      "version": "1",
      "properties": {
        "apiKey": {"type": "string", "default": ""},
        "pageSize": {"type": "integer", "default": 20}
      },
      "required": ["apiKey"]
    }
  }
}`

const yamlContent = `
pluginId: modtrack-yaml
displayName: ModTrack YAML
version: "1.0.0"
assemblyName: modtrack.bin
mainClass: ModTrackPlugin
`

const tomlContent = `
pluginId = "modtrack-toml"
displayName = "ModTrack TOML"
version = "1.0.0"
assemblyName = "modtrack.bin"
mainClass = "ModTrackPlugin"
`

func writeCodeObject(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{0x01, 0x02}, 0o644))
}

func TestLoadDeclarativeJSON(t *testing.T) {
	dir := t.TempDir()
	writeCodeObject(t, dir, "modtrack.bin")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(jsonContent), 0o644))

	l := New(nil, logx.NopLogger{})
	desc, ok := l.Load(dir)
	require.True(t, ok)
	assert.Equal(t, "modtrack", desc.PluginID)
	assert.Equal(t, "ModTrackPlugin", desc.MainTypeName)
	require.NotNil(t, desc.Configuration)
	require.NotNil(t, desc.Configuration.Schema)
	assert.True(t, desc.HasSchema())
}

func TestLoadDeclarativeYAML(t *testing.T) {
	dir := t.TempDir()
	writeCodeObject(t, dir, "modtrack.bin")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(yamlContent), 0o644))

	l := New(nil, logx.NopLogger{})
	desc, ok := l.Load(dir)
	require.True(t, ok)
	assert.Equal(t, "modtrack-yaml", desc.PluginID)
}

func TestLoadDeclarativeTOML(t *testing.T) {
	dir := t.TempDir()
	writeCodeObject(t, dir, "modtrack.bin")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.toml"), []byte(tomlContent), 0o644))

	l := New(nil, logx.NopLogger{})
	desc, ok := l.Load(dir)
	require.True(t, ok)
	assert.Equal(t, "modtrack-toml", desc.PluginID)
}

func TestLoadMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	writeCodeObject(t, dir, "modtrack.bin")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(`{"displayName":"no id"}`), 0o644))

	l := New(nil, logx.NopLogger{})
	_, ok := l.Load(dir)
	assert.False(t, ok)
}

func TestLoadCodeObjectMissing(t *testing.T) {
	dir := t.TempDir()
	// Descriptor references a code object that does not exist on disk.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(jsonContent), 0o644))

	l := New(nil, logx.NopLogger{})
	_, ok := l.Load(dir)
	assert.False(t, ok)
}

type stubProber struct {
	mainType string
	ok       bool
}

func (s stubProber) Probe(string) (string, bool) { return s.mainType, s.ok }

func TestLoadFallbackProbe(t *testing.T) {
	dir := t.TempDir()
	writeCodeObject(t, dir, "unknown.bin")

	l := New(stubProber{mainType: "InferredPlugin", ok: true}, logx.NopLogger{})
	desc, ok := l.Load(dir)
	require.True(t, ok)
	assert.Equal(t, "InferredPlugin", desc.MainTypeName)
	assert.Equal(t, filepath.Base(dir), desc.PluginID)
}

func TestLoadFallbackProbeNoMatch(t *testing.T) {
	dir := t.TempDir()
	writeCodeObject(t, dir, "unknown.bin")

	l := New(stubProber{ok: false}, logx.NopLogger{})
	_, ok := l.Load(dir)
	assert.False(t, ok)
}

func TestLoadNoDescriptorNoProber(t *testing.T) {
	dir := t.TempDir()
	l := New(nil, logx.NopLogger{})
	_, ok := l.Load(dir)
	assert.False(t, ok)
}
