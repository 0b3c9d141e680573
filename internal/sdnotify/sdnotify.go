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

// Package sdnotify sends systemd readiness/status notifications from
// background (daemon) run-mode. It is a silent no-op when $NOTIFY_SOCKET
// is unset, so it costs nothing on systems without systemd.
package sdnotify

import (
	"net"
	"os"
)

const (
	Ready    = "READY=1"
	Stopping = "STOPPING=1"
)

// Status builds a STATUS= message for the given text.
func Status(text string) string { return "STATUS=" + text }

// Notify writes state to $NOTIFY_SOCKET, if set. Absence of the socket is
// not an error: most runs are not supervised by systemd.
func Notify(state string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}

	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write([]byte(state))
	return err
}
