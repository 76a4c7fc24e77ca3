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

// Mod is the record type plugins return from GetRecentMods (spec.md §6).
// It crosses the trust boundary and is therefore the Security Proxy's
// primary sanitization target.
type Mod struct {
	Name         string         `json:"name"`
	Publisher    string         `json:"publisher"`
	Type         string         `json:"type"`
	Version      string         `json:"version"`
	ModURL       string         `json:"modUrl"`
	DownloadURL  string         `json:"downloadUrl"`
	ImageURL     string         `json:"imageUrl"`
	UploadDate   string         `json:"uploadDate"`
	FileSize     int64          `json:"fileSize"`
	PluginSource string         `json:"pluginSource"`
	Tags         []string       `json:"tags"`
	Metadata     map[string]any `json:"metadata"`
}
