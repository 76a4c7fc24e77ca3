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

// Package isolation implements the Isolated Loader (component D). Go has no
// per-assembly load context with unloadable private namespaces, so this
// loader leans on the two primitives the runtime does give a plugin author:
// the stdlib plugin package (one *.so per code object, opened once and never
// reopened into the same process) for symbol resolution, and a narrow,
// reflection-driven constructor-injection registry for building the plugin
// instance without the host ever importing the plugin's package.
package isolation

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"plugin"
	"reflect"
	"regexp"
	"runtime"
	"sync"
	"time"

	pluginapi "github.com/TimeWtr/pluginhost/plugin"
)

// Handle is the teardown token for a loaded plugin. Go's plugin package
// never unloads a *.so from the process, so Dispose only drops the strong
// reference and lets the garbage collector reclaim everything reachable
// only from the plugin instance; WaitForUnload polls a weak-reference
// analog (a runtime.SetFinalizer callback) while driving collection.
type Handle struct {
	MainType  string
	Instance  pluginapi.ModPlugin
	CodePath  string
	openedAt  time.Time
	unloaded  chan struct{}
	unloadSet sync.Once
}

// Dispose drops the strong reference. Call exactly once.
func (h *Handle) Dispose() {
	h.unloadSet.Do(func() {
		if h.Instance == nil || h.unloaded == nil {
			return
		}
		runtime.SetFinalizer(h.Instance, func(pluginapi.ModPlugin) {
			close(h.unloaded)
		})
		h.Instance = nil
	})
}

// WaitForUnload polls for the finalizer to run, driving the collector in
// between polls. It returns true once the plugin instance has been
// reclaimed by the garbage collector. The *.so itself stays mapped into the
// process, so a true result does not mean the code object file is released.
func (h *Handle) WaitForUnload(timeout time.Duration) bool {
	if h.unloaded == nil {
		return true
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		runtime.GC()
		select {
		case <-h.unloaded:
			return true
		case <-time.After(50 * time.Millisecond):
		}
	}
	select {
	case <-h.unloaded:
		return true
	default:
		return false
	}
}

// sharedSymbolPrefixes is the configured prefix set of host-owned packages
// that must resolve to the host namespace's copy rather than a fresh
// private one — this is the rule that keeps a plugin's capability
// implementation type-identical to the host's interface (spec.md §4.D,
// §9 "cross-boundary type identity"). In Go, any package the host and the
// plugin both import from the host's module path is already the same
// compiled symbol as long as both were built against the same module
// version; this set exists to document and enforce that expectation rather
// than to perform any runtime symbol surgery.
var sharedSymbolPrefixes = []string{
	"github.com/TimeWtr/pluginhost/plugin",
	"github.com/TimeWtr/pluginhost/model",
}

// IsSharedSymbol reports whether pkgPath belongs to the shared-symbol set.
func IsSharedSymbol(pkgPath string) bool {
	for _, p := range sharedSymbolPrefixes {
		if pkgPath == p || (len(pkgPath) > len(p) && pkgPath[:len(p)+1] == p+"/") {
			return true
		}
	}
	return false
}

// constructorSymBase is the well-known exported symbol every plugin *.so must
// export: a zero-or-more-argument function returning something assignable
// to pluginapi.ModPlugin (directly, or as (value, error)). Multiple
// overloads are expressed as NewPlugin, NewPlugin2, NewPlugin3, ... in
// ascending parameter count, matching spec.md §4.D's "enumerate
// constructors in ascending parameter count" contract, since Go exports one
// symbol per name rather than overload sets.
const constructorSymBase = "NewPlugin"

var pathNameRE = regexp.MustCompile(`(?i)directory|path`)

// Loader is the component D contract.
type Loader struct {
	pluginDirectory string
}

// New builds a Loader rooted at nothing in particular; PluginDirectory is
// supplied per Load call since each plugin has its own directory.
func New() *Loader { return &Loader{} }

// Load implements spec.md §4.D: open the code object, enumerate numbered
// constructor overloads in ascending parameter count, inject per the
// parameter-shape rules, and accept the first instance assignable to the
// plugin capability. Never lets a panic raised inside plugin construction
// escape — it is recovered and turned into a (nil, false) result.
func (l *Loader) Load(codeObjectPath, mainTypeName, pluginDirectory string) (h *Handle, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h, ok = nil, false
		}
	}()

	p, err := plugin.Open(codeObjectPath)
	if err != nil {
		return nil, false
	}

	for n := 0; n < 8; n++ {
		symName := constructorSymBase
		if n > 0 {
			symName = fmt.Sprintf("%s%d", constructorSymBase, n+1)
		}
		sym, err := p.Lookup(symName)
		if err != nil {
			if n == 0 {
				continue
			}
			break
		}

		instance, ok := l.invokeConstructor(sym, pluginDirectory)
		if !ok {
			continue
		}

		if err := instance.SetPluginDirectory(pluginDirectory); err != nil {
			continue
		}

		return &Handle{
			MainType: mainTypeName,
			Instance: instance,
			CodePath: codeObjectPath,
			openedAt: time.Now(),
			unloaded: make(chan struct{}),
		}, true
	}

	return nil, false
}

// invokeConstructor builds arguments per spec.md §4.D's per-parameter
// injection rules and calls fn, recovering from any panic raised inside
// the plugin's own constructor body.
func (l *Loader) invokeConstructor(fn any, pluginDirectory string) (instance pluginapi.ModPlugin, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			instance, ok = nil, false
		}
	}()

	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, false
	}

	args := make([]reflect.Value, ft.NumIn())
	for i := 0; i < ft.NumIn(); i++ {
		args[i] = injectArg(ft.In(i), paramNameHint(ft, i), pluginDirectory)
	}

	results := fv.Call(args)
	if len(results) == 0 {
		return nil, false
	}

	var raw any
	if len(results) >= 2 {
		if errVal, isErr := results[1].Interface().(error); isErr && errVal != nil {
			return nil, false
		}
	}
	raw = results[0].Interface()

	instance, ok = raw.(pluginapi.ModPlugin)
	return instance, ok
}

// paramNameHint is best-effort; reflect.Type carries no parameter names, so
// named-parameter rules (the directory/path regex) fall back to matching
// against the declared type's name instead of an identifier.
func paramNameHint(ft reflect.Type, i int) string {
	return ft.In(i).Name()
}

var loggerType = reflect.TypeOf((*interface {
	Info(string, ...any)
})(nil)).Elem()

var durationType = reflect.TypeOf(time.Duration(0))
var httpClientType = reflect.TypeOf((*http.Client)(nil))

// injectArg implements the per-parameter injection table from spec.md
// §4.D.
func injectArg(t reflect.Type, nameHint, pluginDirectory string) reflect.Value {
	switch {
	case t.Kind() == reflect.Interface && t.Implements(loggerType):
		return reflect.Zero(t)

	case t == httpClientType:
		return reflect.ValueOf(&http.Client{Timeout: 5 * time.Minute, Transport: userAgentTransport{}})

	case t.Kind() == reflect.String:
		if pathNameRE.MatchString(nameHint) {
			return reflect.ValueOf(pluginDirectory)
		}
		return reflect.ValueOf("")

	case t == durationType:
		return reflect.ValueOf(30 * time.Minute)

	default:
		return reflect.Zero(t)
	}
}

type userAgentTransport struct{}

func (userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", "pluginhost/1.0")
	return http.DefaultTransport.RoundTrip(req)
}

// Probe implements the descriptor.Prober contract used by spec.md §4.B's
// fallback discovery step: open codeObjectPath, try to construct a plugin
// exactly as Load would (with an empty plugin directory, since the
// directory isn't known until a descriptor exists), and report the
// constructed instance's concrete type name as mainTypeName. The throwaway
// instance is disposed immediately.
func (l *Loader) Probe(codeObjectPath string) (mainTypeName string, ok bool) {
	h, loaded := l.Load(codeObjectPath, "", "")
	if !loaded {
		return "", false
	}
	mainTypeName = reflect.TypeOf(h.Instance).String()
	h.Dispose()
	return mainTypeName, true
}

// ResolveDependency implements the private-namespace resolution algorithm
// (spec.md §4.D step 1-3): shared symbols resolve to the host package path
// unchanged; otherwise a matching file in pluginDirectory is preferred;
// failing that, the caller should defer to its own default resolution.
func ResolveDependency(pkgPath, pluginDirectory string) (resolved string, isHostNamespace bool) {
	if IsSharedSymbol(pkgPath) {
		return pkgPath, true
	}
	candidate := filepath.Join(pluginDirectory, filepath.Base(pkgPath)+".so")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, false
	}
	return "", false
}
