package host

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/muesli/termenv"
	"golang.org/x/term"

	"opguard/internal/domain"
)

// TemplateFunc resolves a notice key to a format template.
type TemplateFunc func(key string) string

// Renderer turns notices into text, translating &-color codes to ANSI when
// the output is a terminal and stripping them otherwise.
type Renderer struct {
	out       *termenv.Output
	templates TemplateFunc
}

// NewRenderer picks a color profile for w: detected for a terminal, plain
// text for anything else.
func NewRenderer(w io.Writer, templates TemplateFunc) *Renderer {
	profile := termenv.Ascii
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		profile = termenv.NewOutput(f).EnvColorProfile()
	}
	return NewRendererWithProfile(w, templates, profile)
}

func NewRendererWithProfile(w io.Writer, templates TemplateFunc, profile termenv.Profile) *Renderer {
	return &Renderer{
		out:       termenv.NewOutput(w, termenv.WithProfile(profile)),
		templates: templates,
	}
}

// Render formats the template for key with args and applies color codes.
// Unknown keys render as the key itself.
func (r *Renderer) Render(key domain.NoticeKey, args ...any) string {
	return r.Colorize(r.Format(key, args...))
}

// Format fills the template for key with args and keeps the &-codes, for
// hosts that translate them on their side.
func (r *Renderer) Format(key domain.NoticeKey, args ...any) string {
	tmpl := r.templates(string(key))
	if tmpl == "" {
		tmpl = string(key)
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

var legacyColors = map[rune]termenv.ANSIColor{
	'0': termenv.ANSIBlack,
	'1': termenv.ANSIBlue,
	'2': termenv.ANSIGreen,
	'3': termenv.ANSICyan,
	'4': termenv.ANSIRed,
	'5': termenv.ANSIMagenta,
	'6': termenv.ANSIYellow,
	'7': termenv.ANSIWhite,
	'8': termenv.ANSIBrightBlack,
	'9': termenv.ANSIBrightBlue,
	'a': termenv.ANSIBrightGreen,
	'b': termenv.ANSIBrightCyan,
	'c': termenv.ANSIBrightRed,
	'd': termenv.ANSIBrightMagenta,
	'e': termenv.ANSIBrightYellow,
	'f': termenv.ANSIBrightWhite,
}

type segmentStyle struct {
	color     termenv.Color
	bold      bool
	italic    bool
	underline bool
	crossed   bool
}

// Colorize translates &-codes (&0-&f colors, &l &o &n &m formats, &r reset).
// &k is dropped and unknown codes are kept as written.
func (r *Renderer) Colorize(text string) string {
	var (
		out   strings.Builder
		seg   strings.Builder
		style segmentStyle
	)
	flush := func() {
		if seg.Len() == 0 {
			return
		}
		out.WriteString(r.styled(seg.String(), style))
		seg.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '&' || i+1 >= len(runes) {
			seg.WriteRune(runes[i])
			continue
		}
		code := toLowerASCII(runes[i+1])
		if c, ok := legacyColors[code]; ok {
			flush()
			// A color code resets formatting, like the game client.
			style = segmentStyle{color: c}
			i++
			continue
		}
		switch code {
		case 'l', 'o', 'n', 'm', 'k', 'r':
			flush()
			switch code {
			case 'l':
				style.bold = true
			case 'o':
				style.italic = true
			case 'n':
				style.underline = true
			case 'm':
				style.crossed = true
			case 'r':
				style = segmentStyle{}
			}
			i++
		default:
			seg.WriteRune(runes[i])
		}
	}
	flush()
	return out.String()
}

func (r *Renderer) styled(s string, st segmentStyle) string {
	if st == (segmentStyle{}) {
		return s
	}
	style := r.out.String(s)
	if st.color != nil {
		style = style.Foreground(st.color)
	}
	if st.bold {
		style = style.Bold()
	}
	if st.italic {
		style = style.Italic()
	}
	if st.underline {
		style = style.Underline()
	}
	if st.crossed {
		style = style.CrossOut()
	}
	return style.String()
}

func toLowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
