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

package update

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimeWtr/pluginhost/descriptor"
	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
	"github.com/TimeWtr/pluginhost/settings"
)

func TestIsNewerProperty(t *testing.T) {
	assert.True(t, IsNewer("1.1.0", "1.0.0"))
	assert.True(t, IsNewer("v2.0.0", "1.9.9"))
	assert.False(t, IsNewer("1.0.0", "1.0.0"))
	assert.True(t, IsNewer("1.0.0", "1.0.0-rc1"))
	assert.True(t, IsNewer("1.0.0-rc2", "1.0.0-rc1"))
	assert.False(t, IsNewer("not-a-version", "1.0.0"))
	assert.False(t, IsNewer("not-a-version", "not-a-version-either"))
	assert.True(t, IsNewer("1.0.0", "garbage"))
}

// Property P8: isNewer(a,b) ∧ isNewer(b,c) ⇒ isNewer(a,c); isNewer(a,a)=false.
func TestIsNewerTransitivity(t *testing.T) {
	a, b, c := "3.0.0", "2.0.0", "1.0.0"
	require.True(t, IsNewer(a, b))
	require.True(t, IsNewer(b, c))
	assert.True(t, IsNewer(a, c))
	assert.False(t, IsNewer(a, a))
}

type stubRegistry struct {
	entries []RegistryEntry
}

func (s stubRegistry) FetchEntries(context.Context) ([]RegistryEntry, error) {
	return s.entries, nil
}

type stubInstaller struct {
	installs []RegistryEntry
	writeDescriptor func(pluginRoot string, entry RegistryEntry) error
}

func (s *stubInstaller) DownloadAndInstall(ctx context.Context, entry RegistryEntry, pluginRoot string) error {
	s.installs = append(s.installs, entry)
	if s.writeDescriptor != nil {
		return s.writeDescriptor(pluginRoot, entry)
	}
	return nil
}

func writeDescriptorFile(t *testing.T, pluginRoot, pluginID, version string) {
	t.Helper()
	dir := filepath.Join(pluginRoot, pluginID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mod.bin"), []byte("x"), 0o644))
	desc := model.PluginDescriptor{PluginID: pluginID, Version: version, CodeObjectName: "mod.bin", MainTypeName: "Main"}
	data, err := json.Marshal(desc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), data, 0o644))
}

// Scenario 6 from spec.md §8: early update preserves enable state.
func TestUpdateExistingPreservesEnableState(t *testing.T) {
	root := t.TempDir()
	writeDescriptorFile(t, root, "d", "1.0.0")

	store := settings.New(logx.NopLogger{})
	descLoader := descriptor.New(nil, logx.NopLogger{})
	dir := filepath.Join(root, "d")

	desc, ok := descLoader.Load(dir)
	require.True(t, ok)
	st, err := store.Load(dir, desc)
	require.NoError(t, err)
	st.Enabled = true
	st.Configuration = map[string]any{"ApiKey": "K"}
	require.NoError(t, store.Write(dir, st))

	installer := &stubInstaller{
		writeDescriptor: func(pluginRoot string, entry RegistryEntry) error {
			writeDescriptorFile(t, pluginRoot, entry.PluginID, entry.Version)
			return nil
		},
	}
	reg := stubRegistry{entries: []RegistryEntry{{PluginID: "d", Version: "2.0.0"}}}

	svc := New(root, descLoader, store, reg, installer, logx.NopLogger{})
	require.NoError(t, svc.Run(context.Background()))

	require.Len(t, installer.installs, 1)
	assert.Equal(t, "2.0.0", installer.installs[0].Version)

	finalDesc, ok := descLoader.Load(dir)
	require.True(t, ok)
	finalSettings, err := store.Load(dir, finalDesc)
	require.NoError(t, err)
	assert.True(t, finalSettings.Enabled)
	assert.Equal(t, "K", finalSettings.Configuration["ApiKey"])
	assert.Equal(t, "2.0.0", finalSettings.Version)
}

func TestInstallNewForUnknownPlugin(t *testing.T) {
	root := t.TempDir()
	store := settings.New(logx.NopLogger{})
	descLoader := descriptor.New(nil, logx.NopLogger{})
	installer := &stubInstaller{}
	reg := stubRegistry{entries: []RegistryEntry{{PluginID: "new-plugin", Version: "1.0.0"}}}

	svc := New(root, descLoader, store, reg, installer, logx.NopLogger{})
	require.NoError(t, svc.Run(context.Background()))

	require.Len(t, installer.installs, 1)
	assert.Equal(t, "new-plugin", installer.installs[0].PluginID)
}

func TestNoUpdateWhenNotNewer(t *testing.T) {
	root := t.TempDir()
	writeDescriptorFile(t, root, "same", "1.0.0")

	store := settings.New(logx.NopLogger{})
	descLoader := descriptor.New(nil, logx.NopLogger{})
	installer := &stubInstaller{}
	reg := stubRegistry{entries: []RegistryEntry{{PluginID: "same", Version: "1.0.0"}}}

	svc := New(root, descLoader, store, reg, installer, logx.NopLogger{})
	require.NoError(t, svc.Run(context.Background()))

	assert.Len(t, installer.installs, 0)
}
