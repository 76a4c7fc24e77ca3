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

// Package update implements the Early-Update Service (component H): runs
// before the Lifecycle Manager loads any plugin, installing new plugins
// and replacing out-of-date ones while preserving their enable state and
// configuration across the file swap.
package update

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/TimeWtr/pluginhost/descriptor"
	"github.com/TimeWtr/pluginhost/logx"
	"github.com/TimeWtr/pluginhost/model"
	"github.com/TimeWtr/pluginhost/settings"
)

// RegistryEntry is one row of the external canonical-metadata feed.
type RegistryEntry struct {
	PluginID string
	Version  string
}

// RegistryProvider supplies the canonical plugin metadata feed this
// service reconciles installed plugins against.
type RegistryProvider interface {
	FetchEntries(ctx context.Context) ([]RegistryEntry, error)
}

// Installer performs the actual file transfer for an install or update.
// It is an external collaborator — the service never touches the network
// or package format itself.
type Installer interface {
	DownloadAndInstall(ctx context.Context, entry RegistryEntry, pluginRoot string) error
}

// Service is the component H contract. Its own operational log uses a
// distinct audit-trail sink from the rest of the kernel (the host facade
// passes the logger given via WithAuditLogger, a no-op logger by default)
// since every install/update here is a
// security-relevant, after-the-fact-reviewable event.
type Service struct {
	pluginRoot string
	descLoader *descriptor.Loader
	settings   *settings.Store
	registry   RegistryProvider
	installer  Installer
	audit      logx.Logger
}

// New builds an early-update Service.
func New(pluginRoot string, descLoader *descriptor.Loader, store *settings.Store,
	registry RegistryProvider, installer Installer, audit logx.Logger) *Service {
	if audit == nil {
		audit = logx.NopLogger{}
	}
	return &Service{
		pluginRoot: pluginRoot,
		descLoader: descLoader,
		settings:   store,
		registry:   registry,
		installer:  installer,
		audit:      audit,
	}
}

// Run reads installed plugin ids (descriptor parse only, no code loads),
// fetches the canonical registry, installs anything new, and updates
// anything whose registry version is newer — preserving enabled and
// configuration across the file replacement, per spec.md §4.H.
func (s *Service) Run(ctx context.Context) error {
	installed, err := s.installedVersions()
	if err != nil {
		return err
	}

	entries, err := s.registry.FetchEntries(ctx)
	if err != nil {
		s.audit.Error("early-update: failed to fetch registry", logx.ErrorField(err))
		return err
	}

	for _, entry := range entries {
		currentVersion, isInstalled := installed[entry.PluginID]
		if !isInstalled {
			s.installNew(ctx, entry)
			continue
		}
		if IsNewer(entry.Version, currentVersion) {
			s.updateExisting(ctx, entry)
		}
	}
	return nil
}

func (s *Service) installedVersions() (map[string]string, error) {
	entries, err := os.ReadDir(s.pluginRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	out := map[string]string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.pluginRoot, e.Name())
		desc, ok := s.descLoader.Load(dir)
		if !ok {
			continue
		}
		out[desc.PluginID] = desc.Version
	}
	return out, nil
}

func (s *Service) installNew(ctx context.Context, entry RegistryEntry) {
	if err := s.installer.DownloadAndInstall(ctx, entry, s.pluginRoot); err != nil {
		s.audit.Error("early-update: install-new failed",
			logx.StringField("pluginId", entry.PluginID), logx.ErrorField(err))
		return
	}
	s.audit.Info("early-update: installed new plugin",
		logx.StringField("pluginId", entry.PluginID), logx.StringField("version", entry.Version))
}

func (s *Service) updateExisting(ctx context.Context, entry RegistryEntry) {
	pluginDir := filepath.Join(s.pluginRoot, entry.PluginID)

	desc, ok := s.descLoader.Load(pluginDir)
	if !ok {
		s.audit.Warn("early-update: cannot read descriptor before update, skipping",
			logx.StringField("pluginId", entry.PluginID))
		return
	}

	prior, err := s.settings.Load(pluginDir, desc)
	if err != nil {
		s.audit.Error("early-update: cannot read settings before update",
			logx.StringField("pluginId", entry.PluginID), logx.ErrorField(err))
		return
	}
	enabled := prior.Enabled
	configuration := prior.Configuration

	if err := s.installer.DownloadAndInstall(ctx, entry, s.pluginRoot); err != nil {
		s.audit.Error("early-update: update-existing failed",
			logx.StringField("pluginId", entry.PluginID), logx.ErrorField(err))
		return
	}

	newDesc, ok := s.descLoader.Load(pluginDir)
	if !ok {
		s.audit.Error("early-update: descriptor unreadable after install, cannot restore settings",
			logx.StringField("pluginId", entry.PluginID))
		return
	}

	restored, err := s.settings.Load(pluginDir, newDesc)
	if err != nil {
		s.audit.Error("early-update: cannot recreate settings after update",
			logx.StringField("pluginId", entry.PluginID), logx.ErrorField(err))
		return
	}
	restored.Enabled = enabled
	restored.Configuration = configuration
	restored.Version = entry.Version

	if err := s.settings.Write(pluginDir, restored); err != nil {
		s.audit.Error("early-update: failed to persist restored settings",
			logx.StringField("pluginId", entry.PluginID), logx.ErrorField(err))
		return
	}

	s.audit.Info("early-update: updated plugin, preserved enable state",
		logx.StringField("pluginId", entry.PluginID),
		logx.StringField("version", entry.Version))
}

// IsNewer implements spec.md §4.H's version comparison: strip a leading
// v/V, strip build metadata after '+', parse as dot-separated numeric
// components with an optional -prerelease tail, compare major/minor/patch
// numerically, then "absent prerelease > any prerelease", then
// lexicographic on prerelease strings. Non-parseable versions compare as
// 0.0.0.
func IsNewer(a, b string) bool {
	va := normalizeVersion(a)
	vb := normalizeVersion(b)
	return va.compareTo(vb) > 0
}

type parsedVersion struct {
	major, minor, patch int
	prerelease          string
}

func (v parsedVersion) compareTo(o parsedVersion) int {
	if v.major != o.major {
		return cmpInt(v.major, o.major)
	}
	if v.minor != o.minor {
		return cmpInt(v.minor, o.minor)
	}
	if v.patch != o.patch {
		return cmpInt(v.patch, o.patch)
	}
	if v.prerelease == "" && o.prerelease != "" {
		return 1
	}
	if v.prerelease != "" && o.prerelease == "" {
		return -1
	}
	if v.prerelease == o.prerelease {
		return 0
	}
	if v.prerelease < o.prerelease {
		return -1
	}
	return 1
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// normalizeVersion uses Masterminds/semver's tolerant coercion first (it
// already strips a leading v, accepts 2- and 1-component versions, and
// understands build metadata and prerelease tails); when even that fails
// to parse, every component defaults to zero per the spec's "non-parseable
// versions compare as 0.0.0" rule.
func normalizeVersion(raw string) parsedVersion {
	raw = strings.TrimSpace(raw)
	trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "v"), "V")
	if idx := strings.IndexByte(trimmed, '+'); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	if sv, err := semver.NewVersion(trimmed); err == nil {
		return parsedVersion{
			major:      int(sv.Major()),
			minor:      int(sv.Minor()),
			patch:      int(sv.Patch()),
			prerelease: sv.Prerelease(),
		}
	}

	return parsedVersionFromParts(trimmed)
}

// parsedVersionFromParts is the literal fallback coercion the spec
// describes, used only when semver's own (more permissive) grammar still
// rejects the string.
func parsedVersionFromParts(trimmed string) parsedVersion {
	prerelease := ""
	core := trimmed
	if idx := strings.IndexByte(trimmed, '-'); idx >= 0 {
		core = trimmed[:idx]
		prerelease = trimmed[idx+1:]
	}

	parts := strings.Split(core, ".")
	nums := make([]int, 3)
	anyParsed := false
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return parsedVersion{}
		}
		nums[i] = n
		anyParsed = true
	}
	if !anyParsed {
		return parsedVersion{}
	}
	return parsedVersion{major: nums[0], minor: nums[1], patch: nums[2], prerelease: prerelease}
}
