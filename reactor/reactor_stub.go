//go:build !linux
// +build !linux

package reactor

import (
	"errors"

	"github.com/clustercore/batchcore/api"
)

// New returns an error on platforms without an epoll-based implementation.
// batchcore targets Linux HPC compute nodes and controllers; this stub
// only keeps the module buildable elsewhere.
func New() (api.Reactor, error) {
	return nil, errors.New("reactor: epoll backend requires linux")
}
