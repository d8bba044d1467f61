package model

import (
	"maps"
	"slices"
	"strings"
)

// Band identifies a radio frequency band.
type Band string

const (
	Band2G Band = "2G"
	Band5G Band = "5G"
	Band6G Band = "6G"
)

// Display returns the band name used in reports.
func (b Band) Display() string {
	switch b {
	case Band2G:
		return "2.4 GHz"
	case Band5G:
		return "5 GHz"
	case Band6G:
		return "6 GHz"
	default:
		return string(b)
	}
}

// Mode is one infrastructure setting: a band, a channel and a wireless
// standard plus adapter specific parameters. Modes are values; Params must
// not be modified after the Mode has been handed to another component.
type Mode struct {
	Band     Band   `yaml:"band" json:"band"`
	Radio    string `yaml:"radio" json:"radio"`
	Channel  string `yaml:"channel" json:"channel"`
	Standard string `yaml:"standard" json:"standard"`

	// Params carries adapter specific settings (e.g. htmode, hwmode).
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// NewMode builds a Mode with a private copy of params.
func NewMode(band Band, radio, channel, standard string, params map[string]string) Mode {
	return Mode{
		Band:     band,
		Radio:    radio,
		Channel:  channel,
		Standard: standard,
		Params:   maps.Clone(params),
	}
}

// Key returns a stable identifier, e.g. "5G/36/11a/n/ac".
func (m Mode) Key() string {
	return string(m.Band) + "/" + m.Channel + "/" + m.Standard
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	var b strings.Builder
	b.WriteString(m.Band.Display())
	b.WriteString(" ch")
	b.WriteString(m.Channel)
	if m.Standard != "" {
		b.WriteString(" 802.")
		b.WriteString(m.Standard)
	}
	return b.String()
}

// Equal reports whether two modes describe the same setting.
func (m Mode) Equal(o Mode) bool {
	return m.Band == o.Band &&
		m.Radio == o.Radio &&
		m.Channel == o.Channel &&
		m.Standard == o.Standard &&
		maps.Equal(m.Params, o.Params)
}

// Param returns a parameter value and whether it is present.
func (m Mode) Param(key string) (string, bool) {
	v, ok := m.Params[key]
	return v, ok
}

// ParamKeys returns the parameter names in sorted order.
func (m Mode) ParamKeys() []string {
	return slices.Sorted(maps.Keys(m.Params))
}
