// Package dll forwards the DirectOutput operation set onto the vendor's
// DirectOutput.dll. Every call is a 1:1 pass-through: arguments are
// marshalled, the exported entry point is invoked, and its HRESULT comes
// back unmodified. Go callbacks are handed to the DLL through one stable
// trampoline per signature shape; the DLL's context pointer carries an ID
// into a registry that owns the (callback, context) binding for the whole
// lifetime of the registration.
//
// The vendor DLL only exists on Windows; elsewhere Open reports
// ErrUnsupported.
package dll

import "errors"

// DefaultDLL is the vendor library name resolved through the standard
// search path.
const DefaultDLL = "DirectOutput.dll"

// ErrUnsupported is returned by Open on platforms without the vendor DLL.
var ErrUnsupported = errors.New("dll: DirectOutput pass-through requires windows")
