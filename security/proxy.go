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

// Package security implements the Security Proxy (component E): every
// inbound call into a plugin is mediated for quota, timeout, argument
// sanitization, and result validation before the host ever sees it.
package security

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
	"github.com/TimeWtr/pluginhost/plugin"
)

var htmlTagRE = regexp.MustCompile(`<.*?>`)

var blockedHostPrefixes = []string{"192.168.", "10.", "172."}

const (
	methodInitialize    = "initialize"
	methodGetRecentMods = "getRecentMods"
)

// Proxy wraps a raw plugin and exposes plugin.ModPlugin to the host, with
// every call mediated per spec.md §4.E. It also implements plugin.ModPlugin
// itself so the Lifecycle Manager can hold it interchangeably with a raw
// instance.
type Proxy struct {
	inner    plugin.ModPlugin
	pluginID string
	policy   *model.SecurityPolicy
	l        logx.Logger

	mu      sync.Mutex
	calls   map[string]int64
	enabled atomic.Bool
}

// New wraps inner behind a Proxy enforcing policy. enabled seeds the
// proxy's reported Enabled() state — per spec.md §9, the proxy's enabled
// reflects the settings store, never the raw plugin's own flag.
func New(pluginID string, inner plugin.ModPlugin, policy *model.SecurityPolicy, enabled bool, l logx.Logger) *Proxy {
	if l == nil {
		l = logx.NopLogger{}
	}
	p := &Proxy{
		inner:    inner,
		pluginID: pluginID,
		policy:   policy,
		l:        l,
		calls:    map[string]int64{},
	}
	p.enabled.Store(enabled)
	return p
}

// ResetCounters clears per-method call counters, e.g. on re-registration.
func (p *Proxy) ResetCounters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = map[string]int64{}
}

func (p *Proxy) checkQuota(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
	if p.calls[method] > int64(p.policy.CallLimitFor(method)) {
		return &model.SecurityError{PluginID: p.pluginID, Method: method, Reason: "call limit exceeded"}
	}
	return nil
}

// callWithTimeout arms a context with policy.MethodTimeout and runs fn on a
// separate goroutine, returning a SecurityError("timeout") if fn does not
// signal completion before the deadline. fn's own goroutine is not killed
// (Go cannot preempt it), matching the teacher's pattern of treating
// timeouts as caller-observable, not callee-cancelling, when the callee
// doesn't honor ctx itself.
func (p *Proxy) callWithTimeout(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.policy.MethodTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &model.PluginError{PluginID: p.pluginID, Method: method, Cause: fmt.Errorf("panic: %v", r)}
				return
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			var pe *model.PluginError
			if !asPluginError(err, &pe) {
				err = &model.PluginError{PluginID: p.pluginID, Method: method, Cause: err}
			}
			p.l.Warn("plugin call failed", logx.StringField("pluginId", p.pluginID),
				logx.StringField("method", method), logx.ErrorField(err))
			return err
		}
		return nil
	case <-ctx.Done():
		return &model.SecurityError{PluginID: p.pluginID, Method: method, Reason: "timeout"}
	}
}

func asPluginError(err error, target **model.PluginError) bool {
	pe, ok := err.(*model.PluginError)
	if ok {
		*target = pe
	}
	return ok
}

func (p *Proxy) PluginID() string      { return p.inner.PluginID() }
func (p *Proxy) DisplayName() string   { return p.inner.DisplayName() }
func (p *Proxy) Description() string   { return p.inner.Description() }
func (p *Proxy) Version() string       { return p.inner.Version() }
func (p *Proxy) Author() string        { return p.inner.Author() }
func (p *Proxy) Enabled() bool         { return p.enabled.Load() }
func (p *Proxy) SetEnabled(v bool)     { p.enabled.Store(v) }
func (p *Proxy) PluginDirectory() string { return p.inner.PluginDirectory() }

// SetPluginDirectory canonicalizes dir and rejects it unless it is a
// descendant of policy.AllowedPluginBasePath (spec.md §4.E point 5).
func (p *Proxy) SetPluginDirectory(dir string) error {
	canon, err := filepath.Abs(dir)
	if err != nil {
		return &model.SecurityError{PluginID: p.pluginID, Method: "setPluginDirectory", Reason: "unresolvable path"}
	}
	base, err := filepath.Abs(p.policy.AllowedPluginBasePath)
	if err != nil {
		return &model.SecurityError{PluginID: p.pluginID, Method: "setPluginDirectory", Reason: "unresolvable base path"}
	}
	rel, err := filepath.Rel(base, canon)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &model.SecurityError{PluginID: p.pluginID, Method: "setPluginDirectory", Reason: "path escapes allowed plugin base"}
	}
	return p.inner.SetPluginDirectory(canon)
}

// Initialize sanitizes configuration per spec.md §4.E point 3, then calls
// the inner plugin under quota and timeout.
func (p *Proxy) Initialize(ctx context.Context, configuration map[string]any) error {
	if err := p.checkQuota(methodInitialize); err != nil {
		return err
	}

	sanitized := p.sanitizeConfiguration(configuration)

	corrID := uuid.NewString()
	p.l.Debug("mediated call", logx.StringField("correlationId", corrID),
		logx.StringField("pluginId", p.pluginID), logx.StringField("method", methodInitialize))

	return p.callWithTimeout(ctx, methodInitialize, func(ctx context.Context) error {
		return p.inner.Initialize(ctx, sanitized)
	})
}

func (p *Proxy) sanitizeConfiguration(configuration map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range configuration {
		if !p.policy.ConfigKeyAllowed(k) {
			continue
		}
		out[k] = sanitizeConfigValue(v, p.policy.MaxStringLength)
	}
	return out
}

func sanitizeConfigValue(v any, maxLen int) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	lower := strings.ToLower(s)
	for _, bad := range []string{"<script", "javascript:", "file://"} {
		if strings.Contains(lower, bad) {
			s = stripCaseInsensitive(s, bad)
			lower = strings.ToLower(s)
		}
	}
	return truncate(s, maxLen)
}

func stripCaseInsensitive(s, substr string) string {
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(substr))
	return re.ReplaceAllString(s, "")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}

// GetRecentMods calls the inner plugin under quota and timeout, then caps
// and sanitizes the result per spec.md §4.E point 4.
func (p *Proxy) GetRecentMods(ctx context.Context) ([]model.Mod, error) {
	if err := p.checkQuota(methodGetRecentMods); err != nil {
		return nil, err
	}

	corrID := uuid.NewString()
	p.l.Debug("mediated call", logx.StringField("correlationId", corrID),
		logx.StringField("pluginId", p.pluginID), logx.StringField("method", methodGetRecentMods))

	var result []model.Mod
	err := p.callWithTimeout(ctx, methodGetRecentMods, func(ctx context.Context) error {
		mods, err := p.inner.GetRecentMods(ctx)
		if err != nil {
			return err
		}
		result = mods
		return nil
	})
	if err != nil {
		var pe *model.PluginError
		if asPluginError(err, &pe) {
			return []model.Mod{}, nil
		}
		return nil, err
	}

	if len(result) > p.policy.MaxResultItems {
		result = result[:p.policy.MaxResultItems]
	}
	for i := range result {
		sanitizeMod(&result[i], p.policy.MaxStringLength)
	}
	return result, nil
}

// sanitizeMod applies the URL and text field rules from spec.md §4.E point
// 4 in place.
func sanitizeMod(m *model.Mod, maxStringLength int) {
	m.ModURL = sanitizeURL(m.ModURL)
	m.DownloadURL = sanitizeURL(m.DownloadURL)
	m.ImageURL = sanitizeURL(m.ImageURL)

	m.Name = sanitizeText(m.Name, maxStringLength)
	m.Publisher = sanitizeText(m.Publisher, maxStringLength)
	m.Type = sanitizeText(m.Type, maxStringLength)
	m.Version = sanitizeText(m.Version, maxStringLength)
}

func sanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return ""
	}
	for _, prefix := range blockedHostPrefixes {
		if strings.HasPrefix(host, prefix) {
			return ""
		}
	}
	return raw
}

var controlCharRE = regexp.MustCompile(`[\x00-\x1F\x7F]`)

func sanitizeText(s string, maxStringLength int) string {
	s = htmlTagRE.ReplaceAllString(s, "")
	s = controlCharRE.ReplaceAllString(s, "")
	s = truncate(s, maxStringLength)
	return strings.TrimSpace(s)
}

// Dispose forwards to the inner plugin with a timeout equal to
// policy.MethodTimeout; any error is swallowed and logged — disposal must
// never throw (spec.md §4.E).
func (p *Proxy) Dispose(ctx context.Context) error {
	err := p.callWithTimeout(ctx, "dispose", func(ctx context.Context) error {
		return p.inner.Dispose(ctx)
	})
	if err != nil {
		p.l.Warn("dispose failed, swallowing", logx.StringField("pluginId", p.pluginID), logx.ErrorField(err))
	}
	return nil
}
