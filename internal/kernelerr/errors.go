// Package kernelerr defines the discriminated error kinds the kernel and
// its components surface, so callers can compare with errors.Is instead of
// matching on message text.
package kernelerr

import "errors"

var (
	// ErrModuleNotFound is returned when the resolver cannot find a
	// module directory or no candidate satisfies a version range.
	ErrModuleNotFound = errors.New("kernel: module not found")

	// ErrAmbiguous is returned when a bare-name registry lookup matches
	// more than one instance and disambiguation could not resolve it.
	ErrAmbiguous = errors.New("kernel: ambiguous module lookup")

	// ErrLoadFailed is returned when a language loader could not
	// construct a module instance.
	ErrLoadFailed = errors.New("kernel: module load failed")

	// ErrIPCStartupTimeout is returned when a spawned child does not
	// emit its readiness frame in time.
	ErrIPCStartupTimeout = errors.New("kernel: ipc child startup timeout")

	// ErrIPCTimeout is returned when a request receives no response
	// within its deadline.
	ErrIPCTimeout = errors.New("kernel: ipc request timeout")

	// ErrIPCRemoteError is returned when a child reports ok:false for a
	// request. The child's message is wrapped alongside it.
	ErrIPCRemoteError = errors.New("kernel: ipc remote error")

	// ErrIPCChannelClosed is returned to any pending or new request once
	// a child has exited.
	ErrIPCChannelClosed = errors.New("kernel: ipc channel closed")

	// ErrUnauthorized is returned when a privileged method is invoked
	// without the kernel's capability token.
	ErrUnauthorized = errors.New("kernel: unauthorized kernel call")

	// ErrKeyAlreadySet is returned by a module's SetPrivilegedKey when
	// called a second time.
	ErrKeyAlreadySet = errors.New("kernel: privileged key already set")

	// ErrDependencyCycle is returned when a service's load transitively
	// requires itself.
	ErrDependencyCycle = errors.New("kernel: dependency cycle detected")

	// ErrNotFound is an alias of ErrModuleNotFound, the same value: a
	// registry miss and a resolver miss both satisfy errors.Is(err,
	// ErrModuleNotFound) and cannot be told apart by error kind.
	ErrNotFound = ErrModuleNotFound
)
