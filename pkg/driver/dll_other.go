//go:build !windows

package driver

import (
	"github.com/leenr/directoutput-libusb/internal/dll"
	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

// OpenDLL is only functional on Windows; elsewhere it reports
// dll.ErrUnsupported.
func OpenDLL(name string) (*directoutput.Proxy, error) {
	return nil, dll.ErrUnsupported
}
