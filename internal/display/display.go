// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display shows the current fix on an SSD1306 OLED.
package display

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/gps_tracker/internal/gps"
)

const (
	width  = 128
	height = 64
)

// Device is the part of ssd1306.Dev the display draws on.
type Device interface {
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

// Display is a broadcast subscriber that redraws the panel on every fix.
type Display struct {
	dev Device
	bus i2c.BusCloser
}

// New draws the splash screen on dev and returns a Display for it.
func New(dev Device) (*Display, error) {
	d := &Display{dev: dev}
	if err := d.draw(Splash()); err != nil {
		return nil, fmt.Errorf("display splash: %w", err)
	}
	return d, nil
}

// Open initialises periph and opens the panel at addr on the named I2C
// bus. An empty bus name picks the first available bus.
func Open(busName string, addr uint16) (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}

	dev, err := ssd1306.NewI2C(&addrBus{Bus: bus, addr: addr}, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display at 0x%02X: %w", addr, err)
	}

	d, err := New(dev)
	if err != nil {
		bus.Close()
		return nil, err
	}
	d.bus = bus
	return d, nil
}

// Send renders fix.
func (d *Display) Send(fix gps.Fix) error {
	return d.draw(Render(fix))
}

// Close blanks the panel and releases the bus.
func (d *Display) Close() error {
	err := d.dev.Halt()
	if d.bus != nil {
		if cerr := d.bus.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (d *Display) draw(img image.Image) error {
	return d.dev.Draw(img.Bounds(), img, image.Point{})
}

// addrBus sends every transaction to addr. ssd1306.NewI2C always talks to
// the default 0x3C address.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b *addrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, width, height))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

// Render draws fix as hemisphere-suffixed degrees, one coordinate per line.
func Render(fix gps.Fix) *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawString("GPS Position")

	drawer.Dot = fixed.P(0, 32)
	drawer.DrawString(coordinate(fix.Latitude, "N", "S"))

	drawer.Dot = fixed.P(0, 48)
	drawer.DrawString(coordinate(fix.Longitude, "E", "W"))

	return img
}

// Splash is shown until the first fix arrives.
func Splash() *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawString("GPS Tracker")

	drawer.Dot = fixed.P(10, 43)
	drawer.DrawString("Waiting...")

	return img
}

func coordinate(v float64, pos, neg string) string {
	dir := pos
	if v < 0 {
		dir = neg
		v = -v
	}
	return fmt.Sprintf("%.4f%s", v, dir)
}
