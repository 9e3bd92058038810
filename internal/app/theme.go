package app

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"

	"seg-annotator/internal/annotation"
	"seg-annotator/pkg/colorutil"
)

// Theme tints the default fyne theme with the brush palette: primary
// widgets take the object color, errors the background color.
type Theme struct {
	object     color.RGBA
	background color.RGBA
}

var _ fyne.Theme = (*Theme)(nil)

// NewTheme derives a theme from b. Colors that do not parse fall back to
// the canonical marker colors.
func NewTheme(b annotation.Brush) *Theme {
	t := &Theme{object: colorutil.ObjectGreen, background: colorutil.BackgroundRed}
	if c, err := colorutil.ParseHex(b.ObjectColor); err == nil {
		t.object = c
	}
	if c, err := colorutil.ParseHex(b.BackgroundColor); err == nil {
		t.background = c
	}
	return t
}

func (t *Theme) Color(name fyne.ThemeColorName, variant fyne.ThemeVariant) color.Color {
	switch name {
	case theme.ColorNamePrimary, theme.ColorNameFocus:
		return shade(t.object, variant)
	case theme.ColorNameError:
		return shade(t.background, variant)
	case theme.ColorNameSelection:
		c := shade(t.object, variant)
		c.A = 0x60
		return c
	default:
		return theme.DefaultTheme().Color(name, variant)
	}
}

// shade darkens saturated marker colors for light backgrounds.
func shade(c color.RGBA, variant fyne.ThemeVariant) color.NRGBA {
	out := color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xFF}
	if variant == theme.VariantLight {
		out.R = uint8(uint16(c.R) * 3 / 4)
		out.G = uint8(uint16(c.G) * 3 / 4)
		out.B = uint8(uint16(c.B) * 3 / 4)
	}
	return out
}

func (t *Theme) Font(style fyne.TextStyle) fyne.Resource {
	return theme.DefaultTheme().Font(style)
}

func (t *Theme) Icon(name fyne.ThemeIconName) fyne.Resource {
	return theme.DefaultTheme().Icon(name)
}

func (t *Theme) Size(name fyne.ThemeSizeName) float32 {
	switch name {
	case theme.SizeNameScrollBar:
		return 16
	case theme.SizeNameScrollBarSmall:
		return 12
	default:
		return theme.DefaultTheme().Size(name)
	}
}
