// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// DefaultSentence is the identifier of the multi-constellation RMC sentence.
const DefaultSentence = "$GNRMC"

// Field indices of an RMC sentence.
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
const (
	fieldTime = iota + 1
	fieldStatus
	fieldLat
	fieldLatHemi
	fieldLon
	fieldLonHemi
	minFields
)

var (
	ErrWrongSentence = errors.New("gps: not the configured sentence")
	ErrTooFewFields  = errors.New("gps: too few fields")
	ErrEmptyField    = errors.New("gps: empty position field")
	ErrVoid          = errors.New("gps: void fix")
	ErrBadCoordinate = errors.New("gps: malformed coordinate")
	ErrChecksum      = errors.New("gps: framing or checksum error")
)

// Parser turns raw sentences into fixes. The zero value parses $GNRMC
// without checksum verification.
type Parser struct {
	// Sentence is the identifier a line must start with.
	Sentence string
	// VerifyChecksum runs the line through the full NMEA decoder first,
	// rejecting anything with a missing or wrong checksum.
	VerifyChecksum bool
}

var defaultParser Parser

// Parse decodes line with the default parser.
func Parse(line string) (Fix, error) {
	return defaultParser.Parse(line)
}

// Parse returns the fix carried by line, or an error describing why the
// line was rejected. It keeps no state between calls.
func (p Parser) Parse(line string) (Fix, error) {
	line = strings.TrimSpace(line)

	sentence := p.Sentence
	if sentence == "" {
		sentence = DefaultSentence
	}
	if !strings.HasPrefix(line, sentence) {
		return Fix{}, ErrWrongSentence
	}

	if p.VerifyChecksum {
		if _, err := nmea.Parse(line); err != nil {
			return Fix{}, fmt.Errorf("%w: %v", ErrChecksum, err)
		}
	}

	f := strings.Split(line, ",")
	if len(f) < minFields {
		return Fix{}, ErrTooFewFields
	}
	if strings.TrimSpace(f[fieldStatus]) != "A" {
		return Fix{}, ErrVoid
	}

	lat, latHemi := f[fieldLat], f[fieldLatHemi]
	lon, lonHemi := f[fieldLon], f[fieldLonHemi]
	if lat == "" || latHemi == "" || lon == "" || lonHemi == "" {
		return Fix{}, ErrEmptyField
	}

	latDeg, err := degreesMinutes(lat, 2)
	if err != nil {
		return Fix{}, fmt.Errorf("latitude %q: %w", lat, err)
	}
	lonDeg, err := degreesMinutes(lon, 3)
	if err != nil {
		return Fix{}, fmt.Errorf("longitude %q: %w", lon, err)
	}

	if latHemi == "S" {
		latDeg = -latDeg
	}
	if lonHemi == "W" {
		lonDeg = -lonDeg
	}

	return Fix{
		Latitude:  latDeg,
		Longitude: lonDeg,
		Time:      f[fieldTime],
	}, nil
}

// degreesMinutes decodes DDMM.MMMM (degDigits=2) or DDDMM.MMMM
// (degDigits=3) into decimal degrees. Only digits and a single '.' in the
// minutes are accepted; the sign comes from the hemisphere letter alone.
func degreesMinutes(v string, degDigits int) (float64, error) {
	if len(v) <= degDigits || !isDigits(v[:degDigits]) || !isDecimal(v[degDigits:]) {
		return 0, ErrBadCoordinate
	}
	deg, err := parseFinite(v[:degDigits])
	if err != nil {
		return 0, err
	}
	mins, err := parseFinite(v[degDigits:])
	if err != nil {
		return 0, err
	}
	return deg + mins/60.0, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrBadCoordinate
	}
	return v, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isDecimal accepts digits with at most one '.', and at least one digit.
func isDecimal(s string) bool {
	whole, frac, _ := strings.Cut(s, ".")
	return whole+frac != "" && isDigits(whole) && isDigits(frac)
}
