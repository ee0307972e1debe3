package license

import "errors"

var (
	// ErrNotFound means no license exists for the given key or reference.
	ErrNotFound = errors.New("license not found")
	// ErrInactive means the license has been deactivated or canceled.
	ErrInactive = errors.New("license inactive")
	// ErrExpired means the license expiry has passed. The license is flipped
	// inactive as a side effect, so a repeat call reports ErrInactive.
	ErrExpired = errors.New("license expired")
	// ErrDeviceConflict means the license is bound to a different device.
	ErrDeviceConflict = errors.New("license bound to another device")
	// ErrKeyspaceExhausted means key generation collided repeatedly with
	// existing keys. With 150-bit keys this indicates a broken random source,
	// not a full keyspace.
	ErrKeyspaceExhausted = errors.New("key generation exhausted retries")
)
