package protocol

import "strings"

// WeatherResult is the normalized output of a weather lookup.
type WeatherResult struct {
	Summary string `json:"summary"`
	IconRef string `json:"icon_ref,omitempty"`
}

// NormalizeIcon turns a protocol-relative icon reference into an https URL.
func NormalizeIcon(ref string) string {
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	return ref
}
