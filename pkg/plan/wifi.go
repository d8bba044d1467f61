package plan

import "github.com/fleetbench/fleetbench-go/pkg/model"

// Default OpenWrt radios.
const (
	Radio2G = "radio0"
	Radio5G = "radio1"
)

// DefaultChannels lists the channels swept per band.
var DefaultChannels = map[model.Band][]string{
	model.Band2G: {"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12", "13"},
	model.Band5G: {"36", "40", "44", "48", "149", "153", "157", "161", "165"},
}

// DefaultModes holds the uci parameters of each wireless standard.
var DefaultModes = map[model.Band]map[string]map[string]string{
	model.Band2G: {
		"11b/g/n":    {"hwmode": "11g", "htmode": "HT40", "legacy_rates": "1"},
		"11b/g/n/ax": {"hwmode": "11g", "htmode": "HE40", "legacy_rates": "1"},
		"11g/n/ax":   {"hwmode": "11g", "htmode": "HE40", "legacy_rates": "0"},
		"11n/ax":     {"hwmode": "11g", "htmode": "HE40", "legacy_rates": "0", "require_mode": "n"},
	},
	model.Band5G: {
		"11a/n/ac/ax": {"hwmode": "11a", "htmode": "HE80", "legacy_rates": "0"},
		"11a/n/ac":    {"hwmode": "11a", "htmode": "VHT80", "legacy_rates": "0"},
		"11n/ac/ax":   {"hwmode": "11a", "htmode": "HE80", "legacy_rates": "0", "require_mode": "n"},
		"11ac/ax":     {"hwmode": "11a", "htmode": "HE80", "legacy_rates": "0", "require_mode": "ac"},
	},
}

// DefaultStandards is the sweep order per band.
var DefaultStandards = map[model.Band][]string{
	model.Band2G: {"11b/g/n", "11b/g/n/ax", "11g/n/ax", "11n/ax"},
	model.Band5G: {"11a/n/ac/ax", "11a/n/ac", "11n/ac/ax", "11ac/ax"},
}

// ResetStandards is the standard restored per band at the end of a run.
var ResetStandards = map[model.Band]string{
	model.Band2G: "11b/g/n/ax",
	model.Band5G: "11a/n/ac/ax",
}

// DefaultBandPlan returns the full sweep for band with the given network.
func DefaultBandPlan(band model.Band, ssid, password string) BandPlan {
	radio := Radio2G
	if band == model.Band5G {
		radio = Radio5G
	}
	return BandPlan{
		Band:      band,
		Radio:     radio,
		SSID:      ssid,
		Password:  password,
		Channels:  append([]string(nil), DefaultChannels[band]...),
		Standards: append([]string(nil), DefaultStandards[band]...),
		Modes:     DefaultModes[band],
	}
}

// ResetModes returns the mode restored on each band of m after a run:
// automatic channel selection and the band's default standard.
func ResetModes(m Matrix) []model.Mode {
	var out []model.Mode
	for _, bp := range m.Bands {
		std, ok := ResetStandards[bp.Band]
		if !ok {
			continue
		}
		params := bp.Modes[std]
		if params == nil {
			params = DefaultModes[bp.Band][std]
		}
		out = append(out, model.NewMode(bp.Band, bp.Radio, "auto", std, params))
	}
	return out
}
