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

package registry

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
)

func writeRandomCodeObject(t *testing.T, path string, size int) {
	t.Helper()
	buf := make([]byte, size)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

// Scenario 1 from spec.md §8: discovery & integrity drift.
func TestDiscoveryAndIntegrityDrift(t *testing.T) {
	root := t.TempDir()

	for _, id := range []string{"a", "b"} {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		writeRandomCodeObject(t, filepath.Join(dir, "mod.bin"), 128)
	}

	reg := New(root, logx.NopLogger{})

	for _, id := range []string{"a", "b"} {
		desc := &model.PluginDescriptor{PluginID: id, Version: "1.0.0", CodeObjectName: "mod.bin", MainTypeName: "Main"}
		rec, err := reg.Register(desc, filepath.Join(root, id, "mod.bin"))
		require.NoError(t, err)
		assert.Equal(t, model.StatusValid, rec.Status)
	}

	// Append one byte to plugA's code object.
	f, err := os.OpenFile(filepath.Join(root, "a", "mod.bin"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x42})
	require.NoError(t, f.Close())
	require.NoError(t, err)

	oldHash := reg.All()["a"].CodeObjectHash

	status, err := reg.Verify("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusModified, status)

	newRec, ok := reg.Get("a")
	require.True(t, ok)
	assert.NotEqual(t, oldHash, newRec.CodeObjectHash)

	// b is untouched, still valid.
	status, err = reg.Verify("b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, status)
}

func TestVerifyMissing(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "c")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	codePath := filepath.Join(dir, "mod.bin")
	writeRandomCodeObject(t, codePath, 64)

	reg := New(root, logx.NopLogger{})
	desc := &model.PluginDescriptor{PluginID: "c", CodeObjectName: "mod.bin", MainTypeName: "Main"}
	_, err := reg.Register(desc, codePath)
	require.NoError(t, err)

	require.NoError(t, os.Remove(codePath))

	status, err := reg.Verify("c")
	require.NoError(t, err)
	assert.Equal(t, model.StatusMissing, status)
}

// Property P2: for every Valid record, re-hashing yields the recorded hash.
func TestValidRecordsRehashStable(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "p")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	codePath := filepath.Join(dir, "mod.bin")
	writeRandomCodeObject(t, codePath, 256)

	reg := New(root, logx.NopLogger{})
	desc := &model.PluginDescriptor{PluginID: "p", CodeObjectName: "mod.bin", MainTypeName: "Main"}
	rec, err := reg.Register(desc, codePath)
	require.NoError(t, err)

	hash, _, err := hashFile(codePath)
	require.NoError(t, err)
	assert.Equal(t, hash, rec.CodeObjectHash)
}

func TestCleanupMissing(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "d")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	codePath := filepath.Join(dir, "mod.bin")
	writeRandomCodeObject(t, codePath, 32)

	reg := New(root, logx.NopLogger{})
	desc := &model.PluginDescriptor{PluginID: "d", CodeObjectName: "mod.bin", MainTypeName: "Main"}
	_, err := reg.Register(desc, codePath)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))

	removed, err := reg.CleanupMissing()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := reg.Get("d")
	assert.False(t, ok)
}

func TestRegisterPreservesLifetimeStats(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "e")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	codePath := filepath.Join(dir, "mod.bin")
	writeRandomCodeObject(t, codePath, 32)

	reg := New(root, logx.NopLogger{})
	desc := &model.PluginDescriptor{PluginID: "e", Version: "1.0.0", CodeObjectName: "mod.bin", MainTypeName: "Main"}
	_, err := reg.Register(desc, codePath)
	require.NoError(t, err)
	require.NoError(t, reg.RecordLoad("e", true, nil, 0))

	desc.Version = "1.1.0"
	rec, err := reg.Register(desc, codePath)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.LoadCount)
	assert.Equal(t, "1.1.0", rec.Version)
}
