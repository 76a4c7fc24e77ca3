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

package isolation

import (
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsSharedSymbol(t *testing.T) {
	assert.True(t, IsSharedSymbol("github.com/TimeWtr/pluginhost/plugin"))
	assert.True(t, IsSharedSymbol("github.com/TimeWtr/pluginhost/model"))
	assert.False(t, IsSharedSymbol("github.com/TimeWtr/pluginhost/internal/helper"))
	assert.False(t, IsSharedSymbol("github.com/acme/some-plugin-private-dep"))
}

func TestInjectArgString(t *testing.T) {
	v := injectArg(reflect.TypeOf(""), "pluginDirectory", "/plugins/acme")
	assert.Equal(t, "/plugins/acme", v.Interface())

	v = injectArg(reflect.TypeOf(""), "name", "/plugins/acme")
	assert.Equal(t, "", v.Interface())
}

func TestInjectArgDuration(t *testing.T) {
	v := injectArg(reflect.TypeOf(time.Duration(0)), "timeout", "")
	assert.Equal(t, 30*time.Minute, v.Interface())
}

func TestInjectArgHTTPClient(t *testing.T) {
	v := injectArg(reflect.TypeOf((*http.Client)(nil)), "client", "")
	client, ok := v.Interface().(*http.Client)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, client.Timeout)
}

func TestInjectArgZeroValueFallback(t *testing.T) {
	v := injectArg(reflect.TypeOf(0), "count", "")
	assert.Equal(t, 0, v.Interface())
}

func TestResolveDependencySharedSymbol(t *testing.T) {
	resolved, isHost := ResolveDependency("github.com/TimeWtr/pluginhost/plugin", "/plugins/acme")
	assert.True(t, isHost)
	assert.Equal(t, "github.com/TimeWtr/pluginhost/plugin", resolved)
}

func TestResolveDependencyNoMatch(t *testing.T) {
	resolved, isHost := ResolveDependency("github.com/acme/other", "/nonexistent-plugin-dir")
	assert.False(t, isHost)
	assert.Equal(t, "", resolved)
}

func TestHandleWaitForUnloadNilChannel(t *testing.T) {
	h := &Handle{}
	assert.True(t, h.WaitForUnload(time.Millisecond))
}
