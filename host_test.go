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

package pluginhost

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHostWiresDefaults(t *testing.T) {
	root := t.TempDir()
	h := New(root)

	assert.Equal(t, root, h.Root)
	assert.NotNil(t, h.Registry)
	assert.NotNil(t, h.Descriptor)
	assert.NotNil(t, h.Settings)
	assert.NotNil(t, h.Isolation)
	assert.NotNil(t, h.Lifecycle)
	assert.NotNil(t, h.Deletion)
	assert.NotNil(t, h.Policy)
}

func TestHostStartWithNoPlugins(t *testing.T) {
	root := t.TempDir()
	h := New(root)

	require.NoError(t, h.Start(context.Background()))
	h.Shutdown(context.Background())
}

func TestHostStartDiscoversPlugins(t *testing.T) {
	root := t.TempDir()
	pluginDir := filepath.Join(root, "noop")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "mod.bin"), []byte{0x01}, 0o644))
	desc := `{"pluginId":"noop","assemblyName":"mod.bin","mainClass":"Noop","version":"1.0.0"}`
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "plugin.json"), []byte(desc), 0o644))

	h := New(root)
	require.NoError(t, h.Start(context.Background()))
	defer h.Shutdown(context.Background())

	available := h.Lifecycle.GetAvailable()
	require.Len(t, available, 1)
	assert.Equal(t, "noop", available[0].PluginID)

	// Disabled by default, so it never loaded — GetAll stays empty.
	assert.Len(t, h.Lifecycle.GetAll(), 0)
}
