// Package progress decodes the status lines printed by the external download tool
// into percentages and transfer rates.
package progress

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TerminalPercentage is printed once after the last "100.0%" sample of a stream and
// marks the stream as complete rather than being a progress sample itself.
const TerminalPercentage = "100%"

var (
	percentagePattern = regexp.MustCompile(`\d+(?:\.\d)?%`)
	speedPattern      = regexp.MustCompile(`(\d+\.\d+)(\w+/s)`)
)

// Speed is a transfer rate measurement such as 1.2 "MiB/s"
type Speed struct {
	Rate float64 `json:"rate"`
	Unit string  `json:"unit"`
}

// String renders the speed the way the external tool printed it
func (s Speed) String() string {
	return strconv.FormatFloat(s.Rate, 'f', -1, 64) + s.Unit
}

// Sample is everything that could be decoded from a single status line
type Sample struct {
	Percentage string `json:"percentage,omitempty"`
	Speed      *Speed `json:"speed,omitempty"`
}

// HasPercentage reports whether the line carried a percentage token
func (s Sample) HasPercentage() bool {
	return s.Percentage != ""
}

// Terminal reports whether the percentage token is the completion marker
func (s Sample) Terminal() bool {
	return IsTerminalPercentageToken(s.Percentage)
}

// Value parses the percentage token into a number
func (s Sample) Value() (float64, error) {
	return ParsePercentage(s.Percentage)
}

// Empty reports whether nothing could be decoded from the line
func (s Sample) Empty() bool {
	return s.Percentage == "" && s.Speed == nil
}

// ExtractPercentage returns the first "<number>%" token of the line.
func ExtractPercentage(line string) (string, bool) {
	match := percentagePattern.FindString(line)
	if match == "" {
		return "", false
	}
	return match, true
}

// ExtractSpeed returns the first "<decimal><unit>/s" token of the line. Integer rates
// such as "3MiB/s" do not match.
func ExtractSpeed(line string) (Speed, bool) {
	match := speedPattern.FindStringSubmatch(line)
	if match == nil {
		return Speed{}, false
	}

	rate, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return Speed{}, false
	}

	return Speed{Rate: rate, Unit: match[2]}, true
}

// IsTerminalPercentageToken reports whether token is exactly "100%". "100.0%" is an
// ordinary sample.
func IsTerminalPercentageToken(token string) bool {
	return token == TerminalPercentage
}

// ParsePercentage converts a token such as "42.5%" into 42.5
func ParsePercentage(token string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSuffix(token, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", token, err)
	}
	return value, nil
}

// Decode runs both extractors over a line
func Decode(line string) Sample {
	var sample Sample

	if percentage, ok := ExtractPercentage(line); ok {
		sample.Percentage = percentage
	}

	if speed, ok := ExtractSpeed(line); ok {
		sample.Speed = &speed
	}

	return sample
}
