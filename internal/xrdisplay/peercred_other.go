//go:build !linux

package xrdisplay

import (
	"errors"
	"net"
)

// PeerCredentials is only available on Linux.
func PeerCredentials(net.Conn) (*Credentials, error) {
	return nil, errors.New("peer credentials not supported on this platform")
}
