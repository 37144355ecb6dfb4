package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/device"
)

func TestBuild(t *testing.T) {
	f := New()

	t.Run("unknown device type", func(t *testing.T) {
		_, err := f.Build("fax_machine", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, device.ErrUnknownDeviceType)
	})

	t.Run("missing settings are configuration errors", func(t *testing.T) {
		_, err := f.Build(device.TypeCloudTSE, map[string]string{"api_url": "https://tse.example"})
		require.Error(t, err)
	})

	t.Run("every registered type builds", func(t *testing.T) {
		cases := map[device.Type]map[string]string{
			device.TypeCloudTSE: {
				"api_url": "https://tse.example", "api_key": "k", "api_secret": "s", "tss_id": "t-1",
			},
			device.TypeSignAPI: {
				"base_url": "https://sign.example", "api_token": "k", "unit_id": "u-1",
			},
			device.TypeLANHSM: {
				"host": "10.0.0.5:8443", "admin_pin": "12345",
			},
			device.TypeUSBTSE: {},
		}
		for deviceType, settings := range cases {
			adapter, err := f.Build(deviceType, settings)
			require.NoError(t, err, string(deviceType))
			assert.NotNil(t, adapter)
			assert.False(t, adapter.IsConnected())
		}
	})
}
