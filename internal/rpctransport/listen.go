// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package rpctransport

import (
	"fmt"
	"net"
	"os"

	"github.com/coreos/go-systemd/v22/activation"

	"github.com/danos/configd/internal/config"
)

// Listen returns the listener the RPC Dispatcher should accept
// connections on. When started under a systemd socket unit, the first
// socket-activated file descriptor is reused in place of opening a
// fresh one -- the same activation.Listeners hookup server/server.go's
// process-group bring-up historically left to an init script.
// Otherwise a listener is opened directly per cfg.SocketFamily.
func Listen(cfg *config.Config) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err == nil && len(listeners) > 0 && listeners[0] != nil {
		return listeners[0], nil
	}

	switch cfg.SocketFamily {
	case config.SocketUnix:
		if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket %s: %w", cfg.SocketPath, err)
		}
		return net.Listen("unix", cfg.SocketPath)
	case config.SocketIPv4:
		return net.Listen("tcp4", cfg.SocketPath)
	case config.SocketIPv6:
		return net.Listen("tcp6", cfg.SocketPath)
	default:
		return nil, fmt.Errorf("unrecognized socket family %q", cfg.SocketFamily)
	}
}
