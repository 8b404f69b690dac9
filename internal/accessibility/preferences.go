// Package accessibility holds the reader preferences applied to the portal.
package accessibility

import "github.com/eremconecta/portal/internal/model"

const (
	DefaultFontSize = 16
	MinFontSize     = 14
	MaxFontSize     = 24

	ClassHighContrast = "high-contrast"
)

var deficiencyClasses = map[model.Deficiency]string{
	model.DeficiencyVisual:  "deficiency-visual",
	model.DeficiencyHearing: "deficiency-auditiva",
}

// Preferences are the toggles of the accessibility menu.
type Preferences struct {
	FontSize         int  `json:"font_size"`
	HighContrast     bool `json:"high_contrast"`
	SoundsEnabled    bool `json:"sounds_enabled"`
	AudioDescription bool `json:"audio_description_enabled"`
	SignLanguage     bool `json:"sign_language"`
}

// Defaults returns the preferences of a new visitor.
func Defaults() Preferences {
	return Preferences{FontSize: DefaultFontSize, SoundsEnabled: true}
}

// ForProfile returns the defaults adjusted to the deficiency recorded on p.
func ForProfile(p *model.Profile) Preferences {
	prefs := Defaults()
	if p == nil || p.Deficiency == nil {
		return prefs
	}
	switch *p.Deficiency {
	case model.DeficiencyVisual:
		prefs.AudioDescription = true
	case model.DeficiencyHearing:
		prefs.SignLanguage = true
	}
	return prefs
}

// SetFontSize sets the font size in pixels, clamped to [MinFontSize, MaxFontSize].
func (p *Preferences) SetFontSize(px int) {
	p.FontSize = min(max(px, MinFontSize), MaxFontSize)
}

func (p *Preferences) Increase() { p.SetFontSize(p.FontSize + 1) }

func (p *Preferences) Decrease() { p.SetFontSize(p.FontSize - 1) }

// Normalize repairs values read from storage.
func (p *Preferences) Normalize() {
	if p.FontSize == 0 {
		p.FontSize = DefaultFontSize
	}
	p.SetFontSize(p.FontSize)
}

// RootClasses are the CSS classes set on the document root.
func (p Preferences) RootClasses() []string {
	if p.HighContrast {
		return []string{ClassHighContrast}
	}
	return nil
}

// DeficiencyTheme returns the body classes for d. A nil or unknown deficiency has none.
func DeficiencyTheme(d *model.Deficiency) []string {
	if d == nil {
		return nil
	}
	if cls, ok := deficiencyClasses[*d]; ok {
		return []string{cls}
	}
	return nil
}
