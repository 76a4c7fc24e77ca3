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

package model

import "time"

// SecurityPolicy is process-wide and immutable after construction
// (component E). The recommended defaults are from spec.md §6.
type SecurityPolicy struct {
	MethodTimeout         time.Duration
	DefaultCallLimit      int
	PerMethodCallLimits   map[string]int
	MaxResultItems        int
	MaxStringLength       int
	AllowedConfigKeys     map[string]struct{}
	AllowAllConfigKeys    bool
	AllowedPluginBasePath string // absolute, canonical
}

// DefaultSecurityPolicy returns the recommended defaults from spec.md §6.
func DefaultSecurityPolicy(allowedPluginBasePath string) *SecurityPolicy {
	keys := []string{
		"ApiKey", "BaseUrl", "Timeout", "EnableDebug", "CacheDuration",
		"UserAgent", "RequestDelay", "MaxRetries", "ProxyUrl",
	}
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}

	return &SecurityPolicy{
		MethodTimeout:    30 * time.Second,
		DefaultCallLimit: 100,
		PerMethodCallLimits: map[string]int{
			"initialize":    3,
			"getRecentMods": 50,
		},
		MaxResultItems:        200,
		MaxStringLength:       2000,
		AllowedConfigKeys:     allowed,
		AllowedPluginBasePath: allowedPluginBasePath,
	}
}

// CallLimitFor returns the effective per-method call quota: the policy's
// override for method, or the default call limit.
func (p *SecurityPolicy) CallLimitFor(method string) int {
	if p == nil {
		return 0
	}
	if limit, ok := p.PerMethodCallLimits[method]; ok {
		return limit
	}
	return p.DefaultCallLimit
}

// ConfigKeyAllowed reports whether key passes the policy's allowlist.
func (p *SecurityPolicy) ConfigKeyAllowed(key string) bool {
	if p == nil {
		return false
	}
	if p.AllowAllConfigKeys {
		return true
	}
	_, ok := p.AllowedConfigKeys[key]
	return ok
}
