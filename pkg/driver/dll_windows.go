//go:build windows

package driver

import (
	"github.com/leenr/directoutput-libusb/internal/dll"
	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

// OpenDLL wraps the vendor DirectOutput.dll (name may be empty for the
// default) in a callback proxy, so client code can swap between the native
// driver and the pass-through without changing anything else.
func OpenDLL(name string) (*directoutput.Proxy, error) {
	d, err := dll.Open(name)
	if err != nil {
		return nil, err
	}
	return directoutput.Wrap(d), nil
}
