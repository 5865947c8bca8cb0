// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"testing"

	"github.com/relabs-tech/gps_tracker/internal/logger"
)

func TestPrintFix(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"fix", `{"latitude":48.1173,"longitude":-11.5167}`, "[GPS ]  lat=48.117300 lon=-11.516700\n"},
		{"garbage", `not json`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printFix(&buf, []byte(tt.payload), logger.Discard())
			if buf.String() != tt.want {
				t.Errorf("printFix() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}
