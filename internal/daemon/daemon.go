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

// Package daemon implements background run-mode (spec.md §5): a
// filesystem observer that turns snapshot create/delete events into
// engine runs, serialized one at a time, stopped gracefully on SIGTERM.
package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/apperrors"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/engine"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/lockfile"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/pkgconfig"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/sdnotify"
)

// defaultDebounce coalesces bursts of filesystem events (a snapshot tool
// typically creates several subvolumes back to back) into one run.
const defaultDebounce = 2 * time.Second

// Options configures one background run-mode session.
type Options struct {
	Package  *pkgconfig.PackageConfig
	Deps     engine.Deps
	LockPath string
	Debounce time.Duration
}

// Run watches the configured snapshot search directories and triggers an
// engine run whenever a subvolume is created, removed, or renamed beneath
// them. Runs are strictly serialized: the event loop only ever has one
// run in flight, and a new trigger arriving mid-run is coalesced into the
// next iteration rather than overlapping it. Run blocks until SIGTERM or
// SIGINT is received, at which point it stops watching, lets any
// in-flight run finish, and returns; there is no mid-run cancellation.
func Run(opts Options) error {
	lock := lockfile.New(opts.LockPath)
	acquired, err := lock.TryAcquire()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", opts.LockPath, err)
	}
	if !acquired {
		return fmt.Errorf("another instance already holds the lock at %s", opts.LockPath)
	}
	defer lock.Release()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	defer watcher.Close()

	for _, search := range opts.Package.SnapshotSearch {
		if err := watcher.Add(search.Dir); err != nil {
			log.Warn().Err(err).Str("dir", search.Dir).Msg("failed to watch snapshot search directory")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sigCh)

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	trigger := make(chan struct{}, 1)
	requestRun := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	requestRun() // always run once at startup
	_ = sdnotify.Notify(sdnotify.Ready)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("stopping background run-mode")
			_ = sdnotify.Notify(sdnotify.Stopping)
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSubvolumeLifecycleEvent(event) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounce, requestRun)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(watchErr).Msg("filesystem watcher error")

		case <-trigger:
			runOnce(opts)
		}
	}
}

// isSubvolumeLifecycleEvent reports whether event plausibly corresponds
// to a snapshot being created or removed, as opposed to writes happening
// inside an existing one.
func isSubvolumeLifecycleEvent(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

func runOnce(opts Options) {
	log.Info().Msg("background run-mode: starting run")
	_ = sdnotify.Notify(sdnotify.Status("running"))

	result, err := engine.Run(opts.Package, opts.Deps)
	switch {
	case err != nil && apperrors.IsBenign(err):
		log.Warn().Err(err).Msg("run ended without changes")
	case err != nil:
		log.Error().Err(err).Msg("run failed")
	default:
		log.Info().Int("emitted", len(result.EmittedFiles)).Int("includes", len(result.NewIncludes)).Msg("run completed")
	}

	_ = sdnotify.Notify(sdnotify.Ready)
}
