package ports

import "github.com/doukyrie/AquaRegulator-server/internal/domain"

// Gateway is the single in-process arbiter of field-device I/O. Device errors
// never escape: a failed read returns nil and the failure is reported to the
// health registry by the implementation.
type Gateway interface {
	// ReadRealtime samples the device registers and returns the decoded
	// reading, or nil when the device is unreachable or reconnection is
	// rate-limited.
	ReadRealtime() *domain.Reading

	// WriteRegister writes one 16-bit holding register.
	WriteRegister(address, value uint16)

	Close()
}
