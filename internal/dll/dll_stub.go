//go:build !windows

package dll

// Driver is unavailable on this platform.
type Driver struct{}

// Open always fails off Windows; use the native driver instead.
func Open(name string) (*Driver, error) {
	return nil, ErrUnsupported
}
