package liveness

import "errors"

var (
	// ErrUnknownDevice is returned for reports from devices that are not
	// in the registry. Nothing is mutated.
	ErrUnknownDevice = errors.New("liveness: unknown device")

	// ErrStaleReport is returned when a report arrives with a time before
	// the device's recorded last_seen. The report is discarded.
	ErrStaleReport = errors.New("liveness: stale report")

	// ErrUnauthorizedReport is returned when a report's api_key does not
	// match the configured device key.
	ErrUnauthorizedReport = errors.New("liveness: unauthorized report")

	// ErrInvalidReport is returned for reports that cannot be decoded or
	// lack a device id or status.
	ErrInvalidReport = errors.New("liveness: invalid report")

	// ErrRegistryWrite is returned when a registry update still fails
	// after retries.
	ErrRegistryWrite = errors.New("liveness: registry write failed")

	// ErrLogWrite is returned when a log store operation still fails
	// after retries.
	ErrLogWrite = errors.New("liveness: log write failed")

	// ErrDeviceOffline is returned by Guard.Dispatch when the target lock
	// has not reported within the offline threshold.
	ErrDeviceOffline = errors.New("liveness: device offline")

	// ErrInvalidCommand is returned for actions other than LOCK and UNLOCK.
	ErrInvalidCommand = errors.New("liveness: invalid command")

	// ErrPublish is returned when a command could not be handed to the broker.
	ErrPublish = errors.New("liveness: command publish failed")
)
