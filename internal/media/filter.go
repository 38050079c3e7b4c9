package media

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maauso/watermark-bot/internal/settings"
)

// margin is the distance in pixels between the overlay and the frame edge.
const margin = 10

// Geometry returns the drawtext x and y expressions for a position.
// Unknown positions fall back to bottom_right.
func Geometry(p settings.Position) (x, y string) {
	right := fmt.Sprintf("(w-text_w)-%d", margin)
	bottom := fmt.Sprintf("(h-text_h)-%d", margin)
	edge := strconv.Itoa(margin)

	switch p {
	case settings.PositionTopLeft:
		return edge, edge
	case settings.PositionTopRight:
		return right, edge
	case settings.PositionBottomLeft:
		return edge, bottom
	case settings.PositionCenter:
		return "(w-text_w)/2", "(h-text_h)/2"
	default:
		return right, bottom
	}
}

// BuildFilter returns the drawtext filter description for s.
//
// Text, font file and color are escaped for both the option parser and the
// filtergraph parser, and expansion is disabled so "%{...}" sequences in the
// text are drawn literally.
func BuildFilter(s settings.WatermarkSettings, fontFile string) string {
	x, y := Geometry(s.Position)

	opts := []string{
		"fontfile=" + escapeFilterValue(fontFile),
		"text=" + escapeFilterValue(s.Text),
		"expansion=none",
		"fontcolor=" + escapeFilterValue(s.FontColor),
		"fontsize=" + strconv.Itoa(s.FontSize),
		"x=" + x,
		"y=" + y,
	}
	return "drawtext=" + strings.Join(opts, ":")
}

// filterEscaper escapes a value for the option level (\ ' :) and then the
// filtergraph level (\ ' [ ] , ;). Backslash and quote pass through both.
var filterEscaper = strings.NewReplacer(
	`\`, `\\\\`,
	`'`, `\\\'`,
	`:`, `\\:`,
	`[`, `\[`,
	`]`, `\]`,
	`,`, `\,`,
	`;`, `\;`,
)

func escapeFilterValue(v string) string {
	return filterEscaper.Replace(v)
}
