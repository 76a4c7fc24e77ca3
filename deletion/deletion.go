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

// Package deletion implements the Safe Deletion Service (component G):
// unregister a plugin, wait for its files to become unlocked, then reclaim
// its directory with a backoff retry loop.
package deletion

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/TimeWtr/pluginhost/logx"
)

// Unregisterer is the narrow slice of the Lifecycle Manager this service
// depends on.
type Unregisterer interface {
	Unregister(ctx context.Context, pluginID string)
}

// Service is the component G contract.
type Service struct {
	manager Unregisterer
	l       logx.Logger
}

// New builds a deletion Service over manager.
func New(manager Unregisterer, l logx.Logger) *Service {
	if l == nil {
		l = logx.NopLogger{}
	}
	return &Service{manager: manager, l: l}
}

const (
	defaultWaitTimeout   = 2 * time.Minute
	waitPollStep         = 750 * time.Millisecond
	defaultMaxRetries    = 5
	maxLockedFilesLogged = 10
)

// SafeDelete implements spec.md §4.G: unregister, wait for the directory
// to become unlockable, then retryDelete.
func (s *Service) SafeDelete(ctx context.Context, pluginID, pluginDirectory string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}

	s.manager.Unregister(ctx, pluginID)

	deadline := time.Now().Add(timeout)
	for {
		if CanBeDeleted(pluginDirectory) {
			break
		}
		if time.Now().After(deadline) {
			s.l.Warn("safeDelete: directory never became unlockable",
				logx.StringField("pluginId", pluginID), logx.StringField("dir", pluginDirectory))
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(waitPollStep):
		}
	}

	return s.retryDelete(ctx, pluginID, pluginDirectory, defaultMaxRetries)
}

// CanBeDeleted probe-opens every file under pluginDirectory; any open
// failure reports false.
func CanBeDeleted(pluginDirectory string) bool {
	ok := true
	_ = filepath.WalkDir(pluginDirectory, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			ok = false
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		f, openErr := os.OpenFile(path, os.O_RDWR, 0)
		if openErr != nil {
			ok = false
			return filepath.SkipAll
		}
		_ = f.Close()
		return nil
	})
	return ok
}

// retryDelete implements spec.md §4.G step 3: drive a few rounds of
// reclamation, attempt recursive delete, back off exponentially on
// access-denied, and give up after maxRetries.
func (s *Service) retryDelete(ctx context.Context, pluginID, pluginDirectory string, maxRetries int) bool {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		runtime.GC()
		runtime.Gosched()

		err := os.RemoveAll(pluginDirectory)
		if err == nil {
			return true
		}
		if os.IsNotExist(err) {
			return true
		}

		locked := lockedFiles(pluginDirectory, maxLockedFilesLogged)
		s.l.Warn("retryDelete: attempt failed",
			logx.StringField("pluginId", pluginID),
			logx.IntField("attempt", attempt),
			logx.ErrorField(err),
			logx.StringField("lockedFiles", fmt.Sprintf("%v", locked)))

		backoff := time.Duration(math.Min(500*math.Pow(1.8, float64(attempt-1)), 8000)) * time.Millisecond
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
	}
	return false
}

func lockedFiles(dir string, limit int) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if len(out) >= limit {
			return filepath.SkipAll
		}
		if err != nil || d.IsDir() {
			return nil
		}
		if f, openErr := os.OpenFile(path, os.O_RDWR, 0); openErr != nil {
			out = append(out, path)
		} else {
			_ = f.Close()
		}
		return nil
	})
	return out
}
