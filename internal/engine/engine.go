// Copyright (c) 2024 John Mylchreest <jmylchreest@gmail.com>
//
// This file is part of refind-btrfs-snapshots.
//
// refind-btrfs-snapshots is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// refind-btrfs-snapshots is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with refind-btrfs-snapshots. If not, see <https://www.gnu.org/licenses/>.

// Package engine drives the seven-phase run of spec.md §4.5: device
// discovery, root subvolume discovery, boot entry matching, snapshot
// preparation, the entry×snapshot combine, and finally emission plus
// persistence, bundled together as ProcessChanges.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/apperrors"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/bootopts"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/btrfsutil"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/device"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/icon"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/migrate"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/mountopts"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/persistence"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/pkgconfig"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/refindcfg"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/runner"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/snapshot"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/subvolume"
)

// GeneratedStanzasDirName is the fixed subdirectory, created beside the
// discovered rEFInd config, that per-entry generated stanza files and
// their composited icons are written into. Spec.md names this directory
// throughout (§4.4, §4.5, the glossary) but its TOML schema (§6.1) never
// exposes it as a configurable key, so it is a constant here rather than
// a PackageConfig field.
const GeneratedStanzasDirName = "refind-btrfs-snapshots"

const (
	packageConfigKey    = "default"
	processingResultKey = "default"
)

// State names the seven states of the run state machine, in order.
type State int

const (
	StateInitial State = iota
	StateInitializeBlockDevices
	StateInitializeRootSubvolume
	StateInitializeMatchedBootEntries
	StateInitializePreparedSnapshots
	StateCombineBootEntriesWithSnapshots
	StateProcessChanges
	StateFinal
)

func (s State) String() string {
	names := [...]string{
		"Initial",
		"InitializeBlockDevices",
		"InitializeRootSubvolume",
		"InitializeMatchedBootEntries",
		"InitializePreparedSnapshots",
		"CombineBootEntriesWithSnapshots",
		"ProcessChanges",
		"Final",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// ProcessingResult is the domain record persisted under
// persistence.BucketProcessingResult: which snapshots are currently
// bootable, and the generation parameters that produced them, per
// spec.md §4.6.
type ProcessingResult struct {
	BootableSnapshots []*subvolume.Subvolume
	Generation        pkgconfig.BootStanzaGeneration
}

// Deps bundles every external collaborator a run needs.
type Deps struct {
	Runner     runner.Runner
	Fs         afero.Fs
	Store      *persistence.Store
	ConfigPath string // path of the loaded PackageConfig file, for mtime stamping
	LogoDir    string // directory holding bundled btrfs_*.png icon assets
}

// Result summarizes one completed or aborted run.
type Result struct {
	State        State
	EmittedFiles []string
	NewIncludes  []string
	Bootable     []*subvolume.Subvolume
	Warnings     []error
}

type entrySnapshotPair struct {
	Entry    *refindcfg.BootEntry
	Snapshot *subvolume.Subvolume
	IsLatest bool
}

// Run executes one full pass of the seven-phase state machine. A non-nil
// error always carries an *apperrors.Error (or *apperrors.SyntaxError) in
// its chain; callers should use apperrors.IsBenign to choose an exit code.
func Run(pkg *pkgconfig.PackageConfig, deps Deps) (*Result, error) {
	res := &Result{State: StateInitial}
	var warnings *multierror.Error

	disc := device.NewDiscoverer(deps.Runner, deps.Fs)
	lsblk := device.NewLsblkAdapter(deps.Runner)
	adapter := btrfsutil.New(deps.Runner)

	// Phase 1: InitializeBlockDevices.
	res.State = StateInitializeBlockDevices
	liveTable, err := disc.LivePartitionTable()
	if err != nil {
		return res, apperrors.PartitionError(apperrors.PhaseDeviceDiscovery, "live partition table", err)
	}

	espPart := liveTable.ESP()
	if espPart == nil {
		return res, apperrors.PartitionError(apperrors.PhaseDeviceDiscovery, "esp", fmt.Errorf("no unique EFI system partition found"))
	}
	rootPart := liveTable.Root()
	if rootPart == nil {
		return res, apperrors.PartitionError(apperrors.PhaseDeviceDiscovery, "root", fmt.Errorf("no unique root partition found"))
	}
	if rootPart.Filesystem == nil || rootPart.Filesystem.Type != device.BtrfsFSType {
		return res, apperrors.PartitionError(apperrors.PhaseDeviceDiscovery, "root", fmt.Errorf("root filesystem is not btrfs"))
	}
	if disk := diskNameFromPartition(rootPart.Name); disk != "" {
		if _, err := lsblk.PhysicalPartitionTable(disk); err != nil {
			log.Debug().Err(err).Str("disk", disk).Msg("physical partition table unavailable, continuing with live table only")
		}
	}

	// Phase 2: InitializeRootSubvolume.
	res.State = StateInitializeRootSubvolume
	live, err := adapter.Get(rootPart.Filesystem.MountPoint)
	if err != nil {
		return res, err
	}
	if live == nil {
		return res, apperrors.SubvolumeError(apperrors.PhaseRootSubvolumeDiscovery, rootPart.Filesystem.MountPoint, fmt.Errorf("root mount has no subvolume"))
	}
	if live.IsSnapshot() && pkg.ExitIfRootIsSnapshot {
		return res, apperrors.UnsupportedConfiguration(live.LogicalPath, fmt.Errorf("root is itself a snapshot"))
	}

	candidates, err := adapter.SnapshotsOf(live, searchDirectories(pkg.SnapshotSearch))
	if err != nil {
		return res, err
	}
	if len(candidates) == 0 {
		return res, apperrors.SubvolumeError(apperrors.PhaseRootSubvolumeDiscovery, live.LogicalPath, fmt.Errorf("root subvolume has no snapshots"))
	}

	// Phase 3: InitializeMatchedBootEntries.
	res.State = StateInitializeMatchedBootEntries
	refindConfigPath, err := locateRefindConfig(deps.Fs, espPart.Filesystem.MountPoint, pkg.BootStanzaGeneration.RefindConfig)
	if err != nil {
		return res, apperrors.RefindConfigError(apperrors.PhaseBootEntryParseMatch, espPart.Filesystem.MountPoint, err)
	}

	mainCfg, err := refindcfg.NewParser().ParseFile(refindConfigPath)
	if err != nil {
		return res, err
	}

	matched, err := matchEntries(mainCfg, live)
	if err != nil {
		return res, err
	}

	// Phase 4: InitializePreparedSnapshots.
	res.State = StateInitializePreparedSnapshots
	var previous ProcessingResult
	havePrevious, err := deps.Store.Get(persistence.BucketProcessingResult, processingResultKey, &previous)
	if err != nil {
		return res, apperrors.PackageConfigError(deps.Store.Path, err)
	}

	selected := snapshot.Select(candidates, pkg.SnapshotManipulation.SelectionCount)
	additions, removals := snapshot.Classify(selected, previous.BootableSnapshots, pkg.SnapshotManipulation.CleanupExclusion)

	generationUnchanged := havePrevious && previous.Generation == pkg.BootStanzaGeneration
	if len(additions) == 0 && len(removals) == 0 && generationUnchanged {
		return res, apperrors.UnchangedConfiguration(fmt.Errorf("no snapshot changes and boot stanza generation parameters unchanged"))
	}

	promoted, promoteWarnings := snapshot.Promote(adapter, live, additions, pkg.SnapshotManipulation.ModifyReadOnlyFlag, pkg.SnapshotManipulation.DestinationDir)
	for _, w := range promoteWarnings {
		warnings = multierror.Append(warnings, w)
		log.Warn().Err(w).Msg("dropped snapshot during promotion")
	}

	for _, w := range snapshot.DeleteRemovals(adapter, removals) {
		warnings = multierror.Append(warnings, w)
		log.Warn().Err(w).Msg("failed to delete removed snapshot")
	}

	bootable := snapshot.Merge(previous.BootableSnapshots, promoted, removals)

	// Phase 5: CombineBootEntriesWithSnapshots.
	res.State = StateCombineBootEntriesWithSnapshots
	pairs := combine(deps.Fs, matched, live, bootable)
	if len(pairs) == 0 {
		return res, apperrors.RefindConfigError(apperrors.PhaseCombine, refindConfigPath, fmt.Errorf("no (boot entry, snapshot) pair survived the combine phase"))
	}

	// Phase 6/7: ProcessChanges (Emit then Persist).
	res.State = StateProcessChanges

	iconSpec, err := pkg.BootStanzaGeneration.Icon.ToSpec()
	if err != nil {
		return res, apperrors.PackageConfigError("boot-stanza-generation.icon", err)
	}
	refindDir := filepath.Dir(refindConfigPath)
	opts := migrate.Options{
		IncludePaths:    pkg.BootStanzaGeneration.IncludePaths,
		IncludeSubMenus: pkg.BootStanzaGeneration.IncludeSubMenus,
		HasSeparateBoot: liveTable.Boot() != nil,
		Icon: icon.NewResolver(iconSpec, deps.LogoDir,
			filepath.Join(refindDir, GeneratedStanzasDirName, "icons"), refindDir),
	}

	written, newIncludes, emitWarnings := emit(deps, mainCfg, live, pairs, opts)
	for _, w := range emitWarnings {
		warnings = multierror.Append(warnings, w)
		log.Warn().Err(w).Msg("emit warning")
	}

	res.EmittedFiles = written
	res.NewIncludes = newIncludes
	res.Bootable = bootable

	if err := persistResult(deps, pkg, bootable); err != nil {
		return res, apperrors.RefindConfigError(apperrors.PhasePersist, deps.Store.Path, err)
	}

	res.State = StateFinal
	if warnings.ErrorOrNil() != nil {
		res.Warnings = warnings.Errors
	}
	return res, nil
}

func persistResult(deps Deps, pkg *pkgconfig.PackageConfig, bootable []*subvolume.Subvolume) error {
	var cfgMtime time.Time
	if deps.ConfigPath != "" {
		if fi, err := os.Stat(deps.ConfigPath); err == nil {
			cfgMtime = fi.ModTime()
		}
	}
	if err := deps.Store.Put(persistence.BucketPackageConfig, packageConfigKey, pkg, cfgMtime); err != nil {
		return err
	}

	result := ProcessingResult{BootableSnapshots: bootable, Generation: pkg.BootStanzaGeneration}
	return deps.Store.Put(persistence.BucketProcessingResult, processingResultKey, result, time.Time{})
}

func searchDirectories(searches []pkgconfig.SnapshotSearch) []string {
	dirs := make([]string, 0, len(searches))
	for _, s := range searches {
		dirs = append(dirs, s.Dir)
	}
	return dirs
}

// locateRefindConfig finds the configured rEFInd config file name beneath
// the ESP mount point, trying the conventional install locations.
func locateRefindConfig(fs afero.Fs, espMountPoint, filename string) (string, error) {
	if filename == "" {
		filename = "refind.conf"
	}
	for _, candidate := range []string{
		filepath.Join(espMountPoint, "EFI", "refind", filename),
		filepath.Join(espMountPoint, "EFI", "BOOT", filename),
	} {
		if ok, _ := afero.Exists(fs, candidate); ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: not found under %s", filename, espMountPoint)
}

var diskSuffixPattern = regexp.MustCompile(`p?\d+$`)

// diskNameFromPartition derives a disk name ("sda", "nvme0n1") from a
// partition name ("sda1", "nvme0n1p3").
func diskNameFromPartition(name string) string {
	return diskSuffixPattern.ReplaceAllString(filepath.Base(name), "")
}

// matchEntries implements spec §4.5's "matched entries" guard: every
// top-level entry (from the main config or any non-generated include,
// but never from our own generated stanzas) whose rootflags= identifies
// the live root subvolume, failing if two share (volume, loader_path) and
// returning only the usable ones, of which there must be at least one.
func matchEntries(mainCfg *refindcfg.BootConfig, live *subvolume.Subvolume) ([]*refindcfg.BootEntry, error) {
	all := collectEntries(mainCfg, make(map[*refindcfg.BootConfig]bool))

	seen := make(map[[2]string]bool)
	var matched []*refindcfg.BootEntry
	for _, e := range all {
		if !entryMatchesRoot(e, live) {
			continue
		}
		key := [2]string{e.Volume, e.LoaderPath}
		if seen[key] {
			return nil, apperrors.RefindConfigError(apperrors.PhaseBootEntryParseMatch, mainCfg.Path,
				fmt.Errorf("duplicate matched entry for volume=%s loader_path=%s", e.Volume, e.LoaderPath))
		}
		seen[key] = true
		matched = append(matched, e)
	}

	if len(matched) == 0 {
		return nil, apperrors.RefindConfigError(apperrors.PhaseBootEntryParseMatch, mainCfg.Path, fmt.Errorf("no boot entries matched the live root subvolume"))
	}

	var usable []*refindcfg.BootEntry
	for _, e := range matched {
		if e.IsUsableForSnapshots() {
			usable = append(usable, e)
		}
	}
	if len(usable) == 0 {
		return nil, apperrors.RefindConfigError(apperrors.PhaseBootEntryParseMatch, mainCfg.Path, fmt.Errorf("no usable matched boot entries"))
	}
	return usable, nil
}

func collectEntries(cfg *refindcfg.BootConfig, seen map[*refindcfg.BootConfig]bool) []*refindcfg.BootEntry {
	if cfg == nil || seen[cfg] {
		return nil
	}
	seen[cfg] = true
	if cfg.IsGenerated(GeneratedStanzasDirName) {
		return nil
	}

	out := append([]*refindcfg.BootEntry(nil), cfg.Entries...)
	for _, inc := range cfg.Includes {
		out = append(out, collectEntries(inc, seen)...)
	}
	return out
}

func entryMatchesRoot(e *refindcfg.BootEntry, live *subvolume.Subvolume) bool {
	if optsMatch(e.BootOptions, live) {
		return true
	}
	for _, s := range e.SubEntries {
		if optsMatch(s.BootOptions, live) {
			return true
		}
	}
	return false
}

func optsMatch(opts *bootopts.BootOptions, live *subvolume.Subvolume) bool {
	if opts == nil || opts.RootFlags() == nil {
		return false
	}
	return opts.RootFlags().Matches(live.LogicalPath, live.NumID)
}

func combine(fs afero.Fs, matched []*refindcfg.BootEntry, live *subvolume.Subvolume, bootable []*subvolume.Subvolume) []entrySnapshotPair {
	latest := latestOf(bootable)

	var pairs []entrySnapshotPair
	for _, e := range matched {
		for _, snap := range bootable {
			if !snapshotHasFiles(fs, live, snap, e) {
				log.Warn().Str("entry", e.Name).Str("snapshot", snap.LogicalPath).Msg("dropping (entry, snapshot) pair: referenced boot file missing")
				continue
			}
			pairs = append(pairs, entrySnapshotPair{
				Entry:    e,
				Snapshot: snap,
				IsLatest: latest != nil && snap.Equal(latest),
			})
		}
	}
	return pairs
}

func latestOf(snaps []*subvolume.Subvolume) *subvolume.Subvolume {
	var latest *subvolume.Subvolume
	for _, s := range snaps {
		if latest == nil || latest.Less(s) {
			latest = s
		}
	}
	return latest
}

func snapshotHasFiles(fs afero.Fs, live, snap *subvolume.Subvolume, e *refindcfg.BootEntry) bool {
	for _, f := range referencedFiles(e) {
		if f == "" {
			continue
		}
		rel := mountopts.ReplaceRootPartIn(f, live.LogicalPath, "")
		full := filepath.Join(snap.FilesystemPath, rel)
		ok, err := afero.Exists(fs, full)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func referencedFiles(e *refindcfg.BootEntry) []string {
	files := []string{e.LoaderPath, e.InitrdPath}
	for _, s := range e.SubEntries {
		if !s.IsUsableForSnapshots() {
			continue
		}
		files = append(files, s.LoaderPath, s.InitrdPath)
	}
	return files
}

// emittedFile accumulates every migrated entry destined for one physical
// file. Filenames are derived from the original entry's (volume,
// basename(loader_path)) alone, which is unaffected by per-snapshot path
// rewriting (only the directory segment changes, never the basename) —
// so every snapshot of one matched entry lands in the same file, each as
// its own menuentry block, behind a single include line.
type emittedFile struct {
	path    string
	entries []*refindcfg.BootEntry
}

func emit(deps Deps, mainCfg *refindcfg.BootConfig, live *subvolume.Subvolume, pairs []entrySnapshotPair, opts migrate.Options) (written, relIncludes []string, warnings []error) {
	dir := filepath.Join(filepath.Dir(mainCfg.Path), GeneratedStanzasDirName)
	if err := deps.Runner.MkdirAll(dir, 0o755, "create generated stanzas directory"); err != nil {
		return nil, nil, []error{fmt.Errorf("create %s: %w", dir, err)}
	}

	files := make(map[string]*emittedFile)
	var order []string

	for _, pair := range pairs {
		migrated, err := migrate.Entry(pair.Entry, live, pair.Snapshot, opts, pair.IsLatest)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("migrate entry %q for snapshot %s: %w", pair.Entry.Name, pair.Snapshot.LogicalPath, err))
			continue
		}

		path := filepath.Join(dir, emittedFilename(pair.Entry))
		f, ok := files[path]
		if !ok {
			f = &emittedFile{path: path}
			files[path] = f
			order = append(order, path)
		}
		f.entries = append(f.entries, migrated)
	}

	for _, path := range order {
		f := files[path]
		var b strings.Builder
		for _, e := range f.entries {
			b.WriteString(refindcfg.FormatEntry(e))
		}
		content := strings.TrimRight(b.String(), "\n") + "\n"

		if deps.Runner.IsDryRun() {
			log.Info().Str("path", path).Msg("[DRY RUN] Would write generated boot stanza")
		} else if err := refindcfg.WriteThenReplace(path, []byte(content)); err != nil {
			warnings = append(warnings, fmt.Errorf("write %s: %w", path, err))
			continue
		}
		written = append(written, path)

		rel, err := filepath.Rel(filepath.Dir(mainCfg.Path), path)
		if err != nil {
			rel = path
		}
		relIncludes = append(relIncludes, rel)
	}

	if len(relIncludes) > 0 && !deps.Runner.IsDryRun() {
		if err := refindcfg.AppendIncludes(mainCfg, relIncludes); err != nil {
			warnings = append(warnings, err)
		}
	}

	return written, relIncludes, warnings
}

func emittedFilename(e *refindcfg.BootEntry) string {
	base := filepath.Base(e.LoaderPath)
	return strings.ToLower(fmt.Sprintf("%s_%s.conf", normalizeVolumeForFilename(e.Volume), base))
}

func normalizeVolumeForFilename(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.ToLower(b.String())
}
