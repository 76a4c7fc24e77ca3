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

// Package registry implements the Hasher & Integrity Registry (component A):
// a SHA-256 content hash per plugin code object, persisted as a single JSON
// file at the plugin root, with drift detection across process runs.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
)

const fileName = "plugin-registry.json"

// Registry is the component A contract.
type Registry interface {
	// Register upserts a record for pluginId, recomputing the hash over
	// codeObjectPath. Lifetime stats (loadCount, totalRuntime, lastLoaded)
	// are preserved across re-registration.
	Register(descriptor *model.PluginDescriptor, codeObjectPath string) (*model.IntegrityRecord, error)

	// Verify returns the current status for pluginId without requiring a
	// prior Register call in this process (it reads the persisted record).
	Verify(pluginID string) (model.IntegrityStatus, error)

	// VerifyAll runs Verify for every known plugin.
	VerifyAll() (map[string]model.IntegrityStatus, error)

	// RecordLoad updates load statistics after a load attempt.
	RecordLoad(pluginID string, success bool, loadErr error, runtime time.Duration) error

	// CleanupMissing drops rows whose codeObjectPath no longer exists.
	CleanupMissing() (int, error)

	// Get returns the record for pluginID, if any.
	Get(pluginID string) (*model.IntegrityRecord, bool)

	// All returns a snapshot of every record.
	All() map[string]*model.IntegrityRecord
}

// FileRegistry persists to <root>/plugin-registry.json. The write path is
// single-mutex; a corrupt or missing file yields an empty in-memory
// registry rather than failing any plugin load (spec.md §4.A).
type FileRegistry struct {
	root string
	mu   sync.Mutex
	recs map[string]*model.IntegrityRecord
	l    logx.Logger
}

// New loads (or lazily initializes) the registry rooted at pluginRoot.
func New(pluginRoot string, l logx.Logger) *FileRegistry {
	if l == nil {
		l = logx.NopLogger{}
	}
	r := &FileRegistry{root: pluginRoot, recs: map[string]*model.IntegrityRecord{}, l: l}
	r.load()
	return r
}

func (r *FileRegistry) path() string {
	return filepath.Join(r.root, fileName)
}

func (r *FileRegistry) load() {
	data, err := os.ReadFile(r.path())
	if err != nil {
		if !os.IsNotExist(err) {
			r.l.Warn("failed to read integrity registry, starting empty", logx.ErrorField(err))
		}
		return
	}

	var recs map[string]*model.IntegrityRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		r.l.Warn("failed to parse integrity registry, starting empty", logx.ErrorField(err))
		return
	}
	r.recs = recs
}

// persist must be called with r.mu held.
func (r *FileRegistry) persist() error {
	data, err := json.MarshalIndent(r.recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal integrity registry: %w", err)
	}
	return os.WriteFile(r.path(), data, 0o644)
}

func hashFile(path string) (hash string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func (r *FileRegistry) Register(descriptor *model.PluginDescriptor, codeObjectPath string) (*model.IntegrityRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, size, err := hashFile(codeObjectPath)
	if err != nil {
		return nil, fmt.Errorf("hash code object %q: %w", codeObjectPath, err)
	}

	info, err := os.Stat(codeObjectPath)
	if err != nil {
		return nil, err
	}

	existing, had := r.recs[descriptor.PluginID]
	rec := &model.IntegrityRecord{
		PluginID:       descriptor.PluginID,
		DisplayName:    descriptor.DisplayName,
		Version:        descriptor.Version,
		CodeObjectPath: codeObjectPath,
		CodeObjectHash: hash,
		CodeObjectSize: size,
		LastModified:   info.ModTime(),
		Status:         model.StatusValid,
	}
	if had {
		rec.LoadCount = existing.LoadCount
		rec.TotalRuntime = existing.TotalRuntime
		rec.LastLoaded = existing.LastLoaded
		rec.LastError = existing.LastError
	}

	r.recs[descriptor.PluginID] = rec
	if err := r.persist(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *FileRegistry) Verify(pluginID string) (model.IntegrityStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.recs[pluginID]
	if !ok {
		return model.StatusUnknown, fmt.Errorf("plugin %q not registered", pluginID)
	}

	info, err := os.Stat(rec.CodeObjectPath)
	if err != nil {
		if os.IsNotExist(err) {
			rec.Status = model.StatusMissing
			_ = r.persist()
			return model.StatusMissing, nil
		}
		return model.StatusUnknown, err
	}

	// Size-then-hash gate: size mismatch alone is enough to call it
	// Modified; a size match always recomputes the hash before declaring
	// Valid (a cheap-only check is intentionally not exposed publicly).
	if info.Size() == rec.CodeObjectSize {
		hash, _, err := hashFile(rec.CodeObjectPath)
		if err != nil {
			rec.Status = model.StatusCorrupted
			_ = r.persist()
			return model.StatusCorrupted, nil
		}
		if hash == rec.CodeObjectHash {
			rec.Status = model.StatusValid
			_ = r.persist()
			return model.StatusValid, nil
		}
		rec.CodeObjectHash = hash
		rec.LastModified = info.ModTime()
		rec.Status = model.StatusModified
		_ = r.persist()
		return model.StatusModified, nil
	}

	hash, size, err := hashFile(rec.CodeObjectPath)
	if err != nil {
		rec.Status = model.StatusCorrupted
		_ = r.persist()
		return model.StatusCorrupted, nil
	}
	rec.CodeObjectHash = hash
	rec.CodeObjectSize = size
	rec.LastModified = info.ModTime()
	rec.Status = model.StatusModified
	_ = r.persist()
	return model.StatusModified, nil
}

func (r *FileRegistry) VerifyAll() (map[string]model.IntegrityStatus, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.recs))
	for id := range r.recs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	out := make(map[string]model.IntegrityStatus, len(ids))
	for _, id := range ids {
		status, err := r.Verify(id)
		if err != nil {
			r.l.Error("verify failed", logx.StringField("pluginId", id), logx.ErrorField(err))
			continue
		}
		out[id] = status
	}
	return out, nil
}

func (r *FileRegistry) RecordLoad(pluginID string, success bool, loadErr error, runtime time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.recs[pluginID]
	if !ok {
		return fmt.Errorf("plugin %q not registered", pluginID)
	}

	rec.LoadCount++
	rec.TotalRuntime += runtime
	rec.LastLoaded = time.Now()
	if success {
		rec.LastError = ""
	} else if loadErr != nil {
		rec.LastError = loadErr.Error()
	}

	return r.persist()
}

func (r *FileRegistry) CleanupMissing() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.recs {
		if _, err := os.Stat(rec.CodeObjectPath); os.IsNotExist(err) {
			delete(r.recs, id)
			removed++
		}
	}
	if removed > 0 {
		if err := r.persist(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (r *FileRegistry) Get(pluginID string) (*model.IntegrityRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[pluginID]
	return rec, ok
}

func (r *FileRegistry) All() map[string]*model.IntegrityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*model.IntegrityRecord, len(r.recs))
	for k, v := range r.recs {
		cp := *v
		out[k] = &cp
	}
	return out
}
