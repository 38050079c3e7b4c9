// Package settings holds the process-wide watermark configuration: the value
// types, their validation rules and the file-backed Store every job reads a
// snapshot from.
package settings

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Font size bounds accepted by Update.
const (
	MinFontSize = 10
	MaxFontSize = 100
)

// maxTextLength keeps the overlay within what fits on a frame.
const maxTextLength = 200

// Position is the screen corner (or center) the overlay is anchored to.
type Position string

const (
	// PositionTopLeft anchors the overlay to the top-left corner.
	PositionTopLeft Position = "top_left"
	// PositionTopRight anchors the overlay to the top-right corner.
	PositionTopRight Position = "top_right"
	// PositionBottomLeft anchors the overlay to the bottom-left corner.
	PositionBottomLeft Position = "bottom_left"
	// PositionBottomRight anchors the overlay to the bottom-right corner.
	PositionBottomRight Position = "bottom_right"
	// PositionCenter centers the overlay on the frame.
	PositionCenter Position = "center"
)

// Positions lists every supported position in menu order.
var Positions = []Position{
	PositionTopLeft,
	PositionTopRight,
	PositionBottomLeft,
	PositionBottomRight,
	PositionCenter,
}

// IsValid returns true if the position is one of the supported values.
func (p Position) IsValid() bool {
	for _, known := range Positions {
		if p == known {
			return true
		}
	}
	return false
}

// Label returns a human-readable form, e.g. "Bottom Right".
func (p Position) Label() string {
	parts := strings.Split(string(p), "_")
	for i, part := range parts {
		if part != "" {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, " ")
}

// Field names one key of the persisted settings object.
type Field string

const (
	FieldText      Field = "text"
	FieldFontSize  Field = "font_size"
	FieldFontColor Field = "font_color"
	FieldPosition  Field = "position"
)

// WatermarkSettings is the overlay configuration applied to every job.
// The JSON form is the on-disk settings file format.
type WatermarkSettings struct {
	Text      string   `json:"text" validate:"required,max=200"`
	FontSize  int      `json:"font_size" validate:"min=10,max=100"`
	FontColor string   `json:"font_color" validate:"required,fontcolor"`
	Position  Position `json:"position" validate:"required,oneof=top_left top_right bottom_left bottom_right center"`
}

// value returns the field value and whether it is present (non-zero).
func (s WatermarkSettings) value(field Field) (any, bool) {
	switch field {
	case FieldText:
		return s.Text, s.Text != ""
	case FieldFontSize:
		return s.FontSize, s.FontSize != 0
	case FieldFontColor:
		return s.FontColor, s.FontColor != ""
	case FieldPosition:
		return s.Position, s.Position != ""
	default:
		return nil, false
	}
}

// fillFrom copies every zero field from other.
func (s WatermarkSettings) fillFrom(other WatermarkSettings) WatermarkSettings {
	if s.Text == "" {
		s.Text = other.Text
	}
	if s.FontSize == 0 {
		s.FontSize = other.FontSize
	}
	if s.FontColor == "" {
		s.FontColor = other.FontColor
	}
	if s.Position == "" {
		s.Position = other.Position
	}
	return s
}

// Changes is a partial update. Nil fields are left unchanged.
type Changes struct {
	Text      *string
	FontSize  *int
	FontColor *string
	Position  *Position
}

// IsEmpty returns true if no field is set.
func (c Changes) IsEmpty() bool {
	return c.Text == nil && c.FontSize == nil && c.FontColor == nil && c.Position == nil
}

// apply merges the changes into a copy of s.
func (c Changes) apply(s WatermarkSettings) WatermarkSettings {
	if c.Text != nil {
		s.Text = *c.Text
	}
	if c.FontSize != nil {
		s.FontSize = *c.FontSize
	}
	if c.FontColor != nil {
		s.FontColor = strings.TrimSpace(*c.FontColor)
	}
	if c.Position != nil {
		s.Position = *c.Position
	}
	return s
}

// ChangesFrom returns Changes that set every field to the values of s.
func ChangesFrom(s WatermarkSettings) Changes {
	return Changes{
		Text:      &s.Text,
		FontSize:  &s.FontSize,
		FontColor: &s.FontColor,
		Position:  &s.Position,
	}
}

// ErrInvalidSettings is wrapped by every ValidationError.
var ErrInvalidSettings = errors.New("invalid watermark settings")

// ValidationError reports a rejected settings value. Reason is safe to show
// to the user.
type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSettings
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("fontcolor", func(fl validator.FieldLevel) bool {
		return IsValidColor(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks every field of s.
func (s WatermarkSettings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	fe := verrs[0]
	switch fe.StructField() {
	case "Text":
		if fe.Tag() == "max" {
			return &ValidationError{Field: FieldText, Reason: fmt.Sprintf("Watermark text must be at most %d characters", maxTextLength)}
		}
		return &ValidationError{Field: FieldText, Reason: "Watermark text must not be empty"}
	case "FontSize":
		return &ValidationError{Field: FieldFontSize, Reason: fmt.Sprintf("Please enter a number between %d and %d", MinFontSize, MaxFontSize)}
	case "FontColor":
		return &ValidationError{Field: FieldFontColor, Reason: "Unsupported color, use a name like white or a hex value like #FFFFFF"}
	case "Position":
		return &ValidationError{Field: FieldPosition, Reason: "Unknown position"}
	default:
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
}

// namedColors is the subset of ffmpeg's color table accepted for overlays.
var namedColors = map[string]struct{}{
	"white": {}, "black": {}, "red": {}, "green": {}, "blue": {}, "yellow": {},
	"cyan": {}, "magenta": {}, "orange": {}, "purple": {}, "pink": {}, "brown": {},
	"gray": {}, "grey": {}, "silver": {}, "gold": {}, "navy": {}, "teal": {},
	"lime": {}, "maroon": {}, "olive": {}, "violet": {}, "indigo": {}, "coral": {},
	"crimson": {}, "salmon": {}, "khaki": {}, "turquoise": {}, "tomato": {},
	"orchid": {}, "plum": {}, "beige": {}, "ivory": {}, "lavender": {},
	"darkgray": {}, "darkgrey": {}, "lightgray": {}, "lightgrey": {},
	"darkblue": {}, "darkred": {}, "darkgreen": {}, "lightblue": {},
	"lightgreen": {}, "skyblue": {}, "aqua": {}, "fuchsia": {}, "chocolate": {},
	"firebrick": {}, "forestgreen": {}, "hotpink": {}, "deepskyblue": {},
	"whitesmoke": {}, "snow": {}, "azure": {}, "mintcream": {},
}

var hexColor = regexp.MustCompile(`^(#|0[xX])?[0-9A-Fa-f]{6}([0-9A-Fa-f]{2})?$`)

// IsValidColor reports whether c is an allowed font color: a named color or
// a hex value, optionally followed by "@alpha" with alpha in [0,1].
func IsValidColor(c string) bool {
	c = strings.TrimSpace(c)
	if c == "" {
		return false
	}

	base := c
	if i := strings.IndexByte(c, '@'); i >= 0 {
		base = c[:i]
		alpha, err := strconv.ParseFloat(c[i+1:], 64)
		if err != nil || alpha < 0 || alpha > 1 {
			return false
		}
	}

	if _, ok := namedColors[strings.ToLower(base)]; ok {
		return true
	}
	return hexColor.MatchString(base)
}
