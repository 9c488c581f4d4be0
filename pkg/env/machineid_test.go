package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeviceID(t *testing.T) {
	id := DeviceID("comcore", "fallback")
	require.NotEmpty(t, id)
	require.Equal(t, id, DeviceID("comcore", "fallback"))
	if id != "fallback" {
		require.Len(t, id, 12)
	}
}
