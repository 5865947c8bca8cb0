// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

// Fix is a single validated position taken from one RMC sentence.
// Only latitude and longitude go on the wire.
type Fix struct {
	Latitude  float64 `json:"latitude"`  // decimal degrees, south negative
	Longitude float64 `json:"longitude"` // decimal degrees, west negative
	Time      string  `json:"-"`         // hhmmss[.sss] UTC as sent by the receiver
}

// InRange reports whether the fix lies within [-90,90] x [-180,180].
func (f Fix) InRange() bool {
	return f.Latitude >= -90 && f.Latitude <= 90 &&
		f.Longitude >= -180 && f.Longitude <= 180
}
