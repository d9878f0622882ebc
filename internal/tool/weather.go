package tool

import (
	"fmt"
	"strings"

	"github.com/h1v3-io/skycast/pkg/protocol"
)

// GetWeatherName is the name the model uses to request a weather lookup.
const GetWeatherName = "get_weather"

// GetWeather is the single tool declared to the model.
var GetWeather = Spec{
	Name:        GetWeatherName,
	Description: "Get current weather information for a specified location",
	Params: []Param{{
		Name:        "location",
		Type:        "string",
		Description: "The city and state or city and country (e.g., San Francisco, CA or London, UK)",
		Required:    true,
	}},
}

// Location extracts the location argument of a get_weather call.
func Location(call *protocol.ToolCall) (string, error) {
	if call == nil || call.Name != GetWeatherName {
		return "", fmt.Errorf("not a %s call", GetWeatherName)
	}
	if err := GetWeather.Check(call.Input); err != nil {
		return "", err
	}
	loc, ok := call.Input["location"].(string)
	if !ok {
		return "", fmt.Errorf("%s: location is %T, not a string: %w", GetWeatherName, call.Input["location"], protocol.ErrMissingField)
	}
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return "", fmt.Errorf("%s: location is blank: %w", GetWeatherName, protocol.ErrMissingField)
	}
	return loc, nil
}
