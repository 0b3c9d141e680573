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

// Package lockfile is the advisory PID-file of spec.md §5/§6: the daemon
// refuses to start if another instance already holds it.
package lockfile

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Lock wraps an advisory file lock at path.
type Lock struct {
	flock *flock.Flock
	path  string
}

func New(path string) *Lock {
	return &Lock{flock: flock.New(path), path: path}
}

// TryAcquire attempts to take the lock without blocking. ok is false when
// another process already holds it.
func (l *Lock) TryAcquire() (ok bool, err error) {
	ok, err = l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	return ok, nil
}

// Release drops the lock, if held.
func (l *Lock) Release() error {
	return l.flock.Unlock()
}
