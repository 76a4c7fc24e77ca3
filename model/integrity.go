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

// IntegrityStatus classifies a plugin's on-disk integrity relative to its
// last recorded IntegrityRecord.
type IntegrityStatus string

const (
	StatusUnknown         IntegrityStatus = "Unknown"
	StatusValid           IntegrityStatus = "Valid"
	StatusModified        IntegrityStatus = "Modified"
	StatusMissing         IntegrityStatus = "Missing"
	StatusCorrupted       IntegrityStatus = "Corrupted"
	StatusVersionMismatch IntegrityStatus = "VersionMismatch"
)

// IntegrityRecord is one row of the integrity registry (component A),
// persisted to plugin-registry.json at the plugin root.
type IntegrityRecord struct {
	PluginID       string          `json:"pluginId"`
	DisplayName    string          `json:"displayName"`
	Version        string          `json:"version"`
	CodeObjectPath string          `json:"codeObjectPath"`
	CodeObjectHash string          `json:"codeObjectHash"`
	CodeObjectSize int64           `json:"codeObjectSize"`
	LastModified   time.Time       `json:"lastModified"`
	Status         IntegrityStatus `json:"status"`
	LastLoaded     time.Time       `json:"lastLoaded,omitempty"`
	LoadCount      int64           `json:"loadCount"`
	TotalRuntime   time.Duration   `json:"totalRuntime"`
	LastError      string          `json:"lastError,omitempty"`
}
