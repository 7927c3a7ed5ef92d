// Package engerrors defines the engine's error taxonomy (spec §7) in terms
// of github.com/grailbio/base/errors kinds, the same error library used by
// the rest of the distributed-execution corpus this engine is built from.
package engerrors

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Config reports a configuration error detected before any task is
// submitted: ROI shape mismatch, empty backend intersection, unknown
// device class or backend label, a UDF without any process_* method.
func Config(msg string) error {
	return errors.E(errors.Invalid, msg)
}

// Configf is Config with fmt.Sprintf-style formatting.
func Configf(format string, args ...interface{}) error {
	return Config(fmt.Sprintf(format, args...))
}

// TypeCast reports an unsafe dtype cast detected by the default merge.
func TypeCast(msg string) error {
	return errors.E(errors.Invalid, "type cast: "+msg)
}

// Shape reports a buffer kind/shape mismatch at allocation or view time.
func Shape(msg string) error {
	return errors.E(errors.Invalid, "shape: "+msg)
}

// Shapef is Shape with formatting.
func Shapef(format string, args ...interface{}) error {
	return Shape(fmt.Sprintf(format, args...))
}

// NotImplemented reports a UDF that declares buffers requiring a custom
// merge but does not provide one, or an abstract get_result_buffers.
func NotImplemented(msg string) error {
	return errors.E(errors.NotSupported, msg)
}

// NotImplementedf is NotImplemented with formatting.
func NotImplementedf(format string, args ...interface{}) error {
	return NotImplemented(fmt.Sprintf(format, args...))
}

// Serialization reports a task or result that failed to round-trip
// through the executor's serialisation boundary: returned by SelfTest and
// by any envelope/result encode or decode failure during dispatch.
func Serialization(cause error) error {
	return errors.E(errors.Integrity, "serialization round-trip failed", cause)
}

// Executor wraps an error surfaced by the executor collaborator,
// propagating it verbatim if it is already tagged with one of the kinds
// this package produces (or errors.Fatal/errors.Canceled), and tagging it
// errors.Remote otherwise so callers can still branch on
// errors.Is(errors.Remote, err) for lost/retryable tasks.
func Executor(cause error) error {
	if errors.Is(errors.Fatal, cause) || errors.Is(errors.Remote, cause) || errors.Is(errors.Unavailable, cause) || errors.Is(errors.Canceled, cause) ||
		errors.Is(errors.Invalid, cause) || errors.Is(errors.NotSupported, cause) || errors.Is(errors.Integrity, cause) {
		return cause
	}
	return errors.E(errors.Remote, "executor error", cause)
}

// Device reports a failure selecting or restoring a CUDA device.
func Device(msg string) error {
	return errors.E(errors.Unavailable, "device: "+msg)
}

// Devicef is Device with formatting.
func Devicef(format string, args ...interface{}) error {
	return Device(fmt.Sprintf(format, args...))
}

// IsConfig, IsNotImplemented, IsDevice, IsRemote classify an error by
// kind, mirroring the errors.Is(kind, err) idiom used throughout the
// corpus.
func IsConfig(err error) bool         { return errors.Is(errors.Invalid, err) }
func IsNotImplemented(err error) bool { return errors.Is(errors.NotSupported, err) }
func IsDevice(err error) bool         { return errors.Is(errors.Unavailable, err) }
func IsRemote(err error) bool         { return errors.Is(errors.Remote, err) }
