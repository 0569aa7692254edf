package lock

import (
	"fmt"
	"regexp"
	"strings"
)

const maxNameLength = 100

// deviceIDPattern matches the identifiers lock firmware publishes,
// e.g. "device-1" or "front_door.lock".
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateDeviceID checks that id is usable as a registry key and MQTT field.
func ValidateDeviceID(id string) error {
	if !deviceIDPattern.MatchString(id) {
		return fmt.Errorf("%w: device_id %q must be 1-64 letters, digits, '.', '_' or '-'", ErrInvalidLock, id)
	}
	return nil
}

// Validate checks registration fields.
func (l *Lock) Validate() error {
	if err := ValidateDeviceID(l.DeviceID); err != nil {
		return err
	}
	name := strings.TrimSpace(l.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLock)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidLock, maxNameLength)
	}
	if l.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidLock)
	}
	return nil
}
