package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// Intent is a settings change requested through an interactive surface
// (chat menus, the HTTP API, the CLI).
type Intent interface {
	changes(defaults WatermarkSettings) Changes
}

// SetText replaces the overlay text.
type SetText string

// SetFontSize replaces the font size.
type SetFontSize int

// SetFontColor replaces the font color.
type SetFontColor string

// SetPosition replaces the overlay position.
type SetPosition Position

// ResetAll restores every field to the defaults.
type ResetAll struct{}

func (i SetText) changes(WatermarkSettings) Changes {
	v := string(i)
	return Changes{Text: &v}
}

func (i SetFontSize) changes(WatermarkSettings) Changes {
	v := int(i)
	return Changes{FontSize: &v}
}

func (i SetFontColor) changes(WatermarkSettings) Changes {
	v := string(i)
	return Changes{FontColor: &v}
}

func (i SetPosition) changes(WatermarkSettings) Changes {
	v := Position(i)
	return Changes{Position: &v}
}

func (ResetAll) changes(defaults WatermarkSettings) Changes {
	return ChangesFrom(defaults)
}

// Apply performs the intent against the store and returns the resulting
// settings.
func Apply(s *Store, intent Intent) (WatermarkSettings, error) {
	if _, ok := intent.(ResetAll); ok {
		if err := s.Reset(); err != nil {
			return WatermarkSettings{}, err
		}
		return s.Snapshot(), nil
	}
	if err := s.Update(intent.changes(s.Defaults())); err != nil {
		return WatermarkSettings{}, err
	}
	return s.Snapshot(), nil
}

// ParseFontSize parses a free-text font size reply.
func ParseFontSize(input string) (int, error) {
	size, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, &ValidationError{Field: FieldFontSize, Reason: "Please enter a valid number"}
	}
	if size < MinFontSize || size > MaxFontSize {
		return 0, &ValidationError{Field: FieldFontSize, Reason: fmt.Sprintf("Please enter a number between %d and %d", MinFontSize, MaxFontSize)}
	}
	return size, nil
}

// ParsePosition parses a position name such as "bottom_right" or "bottom-right".
func ParsePosition(input string) (Position, error) {
	p := Position(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(input)), "-", "_"))
	if !p.IsValid() {
		return "", &ValidationError{Field: FieldPosition, Reason: "Unknown position"}
	}
	return p, nil
}
