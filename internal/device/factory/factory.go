// Package factory selects the concrete signing-device implementation from a
// site's configured device type. The router never branches on provider type;
// it only ever sees the device.Adapter interface this package hands back.
package factory

import (
	"fmt"
	"net/http"
	"time"

	"fiscalhub/internal/device"
	"fiscalhub/internal/device/cloudtse"
	"fiscalhub/internal/device/lanhsm"
	"fiscalhub/internal/device/signapi"
	"fiscalhub/internal/device/usbtse"
)

// Factory builds adapters with shared process-level defaults.
type Factory struct {
	timeout time.Duration
}

// Option configures the Factory.
type Option func(*Factory)

// WithTimeout bounds every external device call made by adapters built here.
func WithTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// New constructs a Factory.
func New(opts ...Option) *Factory {
	f := &Factory{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build resolves a device type and its settings to a live adapter value.
// Validation failures here are configuration errors, not device failures.
func (f *Factory) Build(deviceType device.Type, settings map[string]string) (device.Adapter, error) {
	httpClient := &http.Client{Timeout: f.timeout}

	switch deviceType {
	case device.TypeCloudTSE:
		cfg, err := cloudtse.ConfigFromSettings(settings)
		if err != nil {
			return nil, err
		}
		return cloudtse.New(cfg, cloudtse.WithHTTPClient(httpClient)), nil

	case device.TypeSignAPI:
		cfg, err := signapi.ConfigFromSettings(settings)
		if err != nil {
			return nil, err
		}
		return signapi.New(cfg, signapi.WithHTTPClient(httpClient)), nil

	case device.TypeLANHSM:
		cfg, err := lanhsm.ConfigFromSettings(settings)
		if err != nil {
			return nil, err
		}
		return lanhsm.New(cfg, lanhsm.WithHTTPClient(httpClient)), nil

	case device.TypeUSBTSE:
		cfg, err := usbtse.ConfigFromSettings(settings)
		if err != nil {
			return nil, err
		}
		return usbtse.New(cfg, usbtse.WithHTTPClient(httpClient)), nil

	default:
		return nil, fmt.Errorf("%w: %q", device.ErrUnknownDeviceType, deviceType)
	}
}
