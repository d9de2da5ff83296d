// Package coloransi formats ANSI colored terminal text.
package coloransi

import (
	"fmt"
	"regexp"
	"strings"
)

// ColorCode represents ANSI color codes and RGB colors as a 32-bit integer.
// The lower 8 bits represent ANSI color codes, and the upper 24 bits represent RGB values.
type ColorCode uint32

const (
	Black   ColorCode = 30
	Red     ColorCode = 31
	Green   ColorCode = 32
	Yellow  ColorCode = 33
	Blue    ColorCode = 34
	Magenta ColorCode = 35
	Cyan    ColorCode = 36
	White   ColorCode = 37

	BrightBlack ColorCode = Black + 60
	BrightWhite ColorCode = White + 60

	BackgroundOffset ColorCode = 10

	RGBMask ColorCode = 0xFFFFFF00
)

// CreateRGB packs an RGB color
func CreateRGB(r, g, b uint8) ColorCode {
	return ColorCode(uint32(r)<<24 | uint32(g)<<16 | uint32(b)<<8)
}

var (
	ColorOrange    = CreateRGB(255, 140, 0)
	ColorPurple    = CreateRGB(128, 0, 128)
	ColorTeal      = CreateRGB(0, 128, 128)
	ColorLimeGreen = CreateRGB(50, 205, 50)
	ColorIndigo    = CreateRGB(75, 0, 130)
)

func (c ColorCode) IsRGB() bool {
	return c&RGBMask != 0
}

// GetRGB returns the components of an RGB color, zero for ANSI codes
func (c ColorCode) GetRGB() (uint8, uint8, uint8) {
	if !c.IsRGB() {
		return 0, 0, 0
	}
	return uint8(c >> 24), uint8(c >> 16), uint8(c >> 8)
}

func join(v []interface{}) string {
	args := make([]string, len(v))
	for i, arg := range v {
		args[i] = fmt.Sprint(arg)
	}
	return strings.Join(args, " ")
}

// Color formats the given text with the specified foreground and background colors.
func Color(fg, bg ColorCode, v ...interface{}) string {
	return OneForeground(fg) + OneBackground(bg) + join(v) + Reset()
}

// Foreground formats the given text with the specified foreground color.
func Foreground(fg ColorCode, v ...interface{}) string {
	return OneForeground(fg) + join(v) + Reset()
}

// OneForeground returns the ANSI escape sequence for the given color code.
func OneForeground(code ColorCode) string {
	if code.IsRGB() {
		r, g, b := code.GetRGB()
		return fmt.Sprintf("\033[38;2;%d;%d;%dm", r, g, b)
	}
	return fmt.Sprintf("\033[%dm", code)
}

// OneBackground returns the ANSI escape sequence for the given background color code.
func OneBackground(code ColorCode) string {
	if code.IsRGB() {
		r, g, b := code.GetRGB()
		return fmt.Sprintf("\033[48;2;%d;%d;%dm", r, g, b)
	}
	return fmt.Sprintf("\033[%dm", code+BackgroundOffset)
}

// Reset returns the ANSI escape sequence to reset the text color.
func Reset() string {
	return "\033[0m"
}

var escape = regexp.MustCompile("\033\\[[0-9;]*m")

// Strip removes color escape sequences
func Strip(s string) string {
	return escape.ReplaceAllString(s, "")
}
