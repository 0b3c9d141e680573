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

// Package apperrors defines the typed error kinds raised by the phases of
// a run, each carrying the phase that raised it.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind identifies a category of failure raised by a phase of the pipeline.
type Kind string

const (
	KindPartitionError           Kind = "partition_error"
	KindSubvolumeError           Kind = "subvolume_error"
	KindRefindConfigError        Kind = "refind_config_error"
	KindRefindSyntaxError        Kind = "refind_syntax_error"
	KindPackageConfigError       Kind = "package_config_error"
	KindUnsupportedConfiguration Kind = "unsupported_configuration"
	KindUnchangedConfiguration   Kind = "unchanged_configuration"
)

// Phase names the seven ordered phases plus "startup", matching the state
// machine in internal/engine.
type Phase string

const (
	PhaseStartup                         Phase = "startup"
	PhaseDeviceDiscovery                 Phase = "device_discovery"
	PhaseRootSubvolumeDiscovery          Phase = "root_subvolume_discovery"
	PhaseBootEntryParseMatch             Phase = "boot_entry_parse_match"
	PhaseSnapshotPreparation             Phase = "snapshot_preparation"
	PhaseCombine                         Phase = "combine"
	PhaseEmit                            Phase = "emit"
	PhasePersist                         Phase = "persist"
)

// Error is the common shape of every typed error kind raised by the engine.
type Error struct {
	Kind    Kind
	Phase   Phase
	Subject string // file path, subvolume name, or similar locality hint
	Err     error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s in phase %s (%s): %v", e.Kind, e.Phase, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s in phase %s: %v", e.Kind, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsBenign reports whether the error kind terminates a run successfully
// (exit 0, logged as a warning) rather than aborting it (exit 1).
func (e *Error) IsBenign() bool {
	return e.Kind == KindUnsupportedConfiguration || e.Kind == KindUnchangedConfiguration
}

func newErr(kind Kind, phase Phase, subject string, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Subject: subject, Err: err}
}

func PartitionError(phase Phase, subject string, err error) *Error {
	return newErr(KindPartitionError, phase, subject, err)
}

func SubvolumeError(phase Phase, subject string, err error) *Error {
	return newErr(KindSubvolumeError, phase, subject, err)
}

func RefindConfigError(phase Phase, subject string, err error) *Error {
	return newErr(KindRefindConfigError, phase, subject, err)
}

// SyntaxError additionally carries line/column per spec §4.1/§7.
type SyntaxError struct {
	Base   *Error
	Line   int
	Column int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %v", e.Base.Subject, e.Line, e.Column, e.Base.Err)
}

func RefindSyntaxError(subject string, line, column int, err error) *SyntaxError {
	return &SyntaxError{
		Base:   newErr(KindRefindSyntaxError, PhaseBootEntryParseMatch, subject, err),
		Line:   line,
		Column: column,
	}
}

func PackageConfigError(subject string, err error) *Error {
	return newErr(KindPackageConfigError, PhaseStartup, subject, err)
}

func UnsupportedConfiguration(subject string, err error) *Error {
	return newErr(KindUnsupportedConfiguration, PhaseRootSubvolumeDiscovery, subject, err)
}

func UnchangedConfiguration(err error) *Error {
	return newErr(KindUnchangedConfiguration, PhaseSnapshotPreparation, "", err)
}

// IsBenign reports whether err carries a typed error anywhere in its chain
// whose kind terminates a run successfully (exit 0, logged as a warning)
// rather than aborting it. SyntaxError holds its *Error in a field rather
// than in its Unwrap chain, so it is checked explicitly.
func IsBenign(err error) bool {
	var se *SyntaxError
	if errors.As(err, &se) {
		return se.Base.IsBenign()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.IsBenign()
	}
	return false
}
