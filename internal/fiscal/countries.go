package fiscal

import (
	"sort"

	"fiscalhub/internal/device"
	"fiscalhub/pkg/fiscalerrors"
)

// CountryStandard describes one national compliance standard the router can
// certify against. New countries register a standard here; nothing else in
// the signing path changes.
type CountryStandard struct {
	Code     string
	Name     string
	Features []string
	// AllowedDevices restricts which adapter types satisfy the standard.
	// Empty means any registered device type.
	AllowedDevices []device.Type
	// RequiredSettings must be present in the site settings map before the
	// configuration is accepted.
	RequiredSettings []string
}

// builtinStandards is the routing skeleton: Germany fully specified (KassenSichV
// certified signing device), Austria and France with their standard outlines.
var builtinStandards = map[string]CountryStandard{
	"DE": {
		Code:     "DE",
		Name:     "Germany (KassenSichV / TSE)",
		Features: []string{"transaction_signing", "daily_close", "dsfinvk_export", "certificate_monitoring"},
		AllowedDevices: []device.Type{
			device.TypeCloudTSE, device.TypeSignAPI, device.TypeLANHSM, device.TypeUSBTSE,
		},
	},
	"AT": {
		Code:           "AT",
		Name:           "Austria (RKSV)",
		Features:       []string{"transaction_signing", "daily_close", "dep_export", "certificate_monitoring"},
		AllowedDevices: []device.Type{device.TypeCloudTSE, device.TypeSignAPI},
	},
	"FR": {
		Code:           "FR",
		Name:           "France (NF 525)",
		Features:       []string{"transaction_signing", "daily_close", "certificate_monitoring"},
		AllowedDevices: []device.Type{device.TypeCloudTSE},
	},
}

// SupportedCountries lists registered country codes in stable order.
func SupportedCountries() []CountryStandard {
	out := make([]CountryStandard, 0, len(builtinStandards))
	for _, std := range builtinStandards {
		out = append(out, std)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// StandardFor resolves the compliance standard for a country code.
func StandardFor(code string) (CountryStandard, error) {
	std, ok := builtinStandards[code]
	if !ok {
		return CountryStandard{}, fiscalerrors.Newf(fiscalerrors.CodeUnsupportedCountry,
			"no compliance standard registered for country %q", code)
	}
	return std, nil
}

// validateCommand checks a configure command against the country standard.
func validateCommand(cmd ConfigureCommand) error {
	std, err := StandardFor(cmd.CountryCode)
	if err != nil {
		return err
	}
	if !cmd.Enabled {
		return nil
	}
	if cmd.DeviceType == "" {
		return fiscalerrors.New(fiscalerrors.CodeBadRequest, "enabled site requires a device type")
	}
	if len(std.AllowedDevices) > 0 {
		allowed := false
		for _, t := range std.AllowedDevices {
			if t == cmd.DeviceType {
				allowed = true
				break
			}
		}
		if !allowed {
			return fiscalerrors.Newf(fiscalerrors.CodeBadRequest,
				"device type %q does not satisfy the %s standard", cmd.DeviceType, std.Code)
		}
	}
	for _, key := range std.RequiredSettings {
		if cmd.Settings[key] == "" {
			return fiscalerrors.Newf(fiscalerrors.CodeBadRequest, "missing required setting %q", key)
		}
	}
	return nil
}
