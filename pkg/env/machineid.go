// Package env provides identity of the machine running a ground tool.
package env

import (
	"github.com/denisbrodbeck/machineid"
)

// MachineID retrieves the unique ID identifying the machine.
func MachineID() string {
	id, err := machineid.ID()
	if err != nil {
		panic(err)
	}
	return id
}

// DeviceID derives a stable device name for app from the machine ID without
// exposing the ID itself. It falls back to fallback when the machine ID is
// unavailable.
func DeviceID(app, fallback string) string {
	id, err := machineid.ProtectedID(app)
	if err != nil || len(id) < 12 {
		return fallback
	}
	return id[:12]
}
