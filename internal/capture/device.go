package capture

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
)

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	IsDefault bool   `json:"is_default"`
}

// SourceDefault selects the backend's default capture device.
const SourceDefault = "sysdefault"

// backendFor picks the miniaudio backend for an OS. Unknown systems let
// miniaudio probe.
func backendFor(goos string) []malgo.Backend {
	switch goos {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// decodeID turns a hex device ID into its readable form. IDs that are not
// printable are returned as hex.
func decodeID(hexID string) string {
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return hexID
	}
	s := strings.TrimRight(string(raw), "\x00")
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			return hexID
		}
	}
	return s
}

// matchDevice returns the index of the device selected by source. An empty
// source or SourceDefault picks the default device, or the first one when
// none is flagged. Otherwise source must equal the ID or be a substring of
// the name.
func matchDevice(devices []DeviceInfo, source string) (int, error) {
	if len(devices) == 0 {
		return -1, errors.Newf("no capture devices available").
			Component(componentName).
			Category(errors.CategoryAudioSource).
			Build()
	}

	if source == "" || source == SourceDefault {
		for i, d := range devices {
			if d.IsDefault {
				return i, nil
			}
		}
		return 0, nil
	}

	for i, d := range devices {
		if d.ID == source || strings.Contains(d.Name, source) {
			return i, nil
		}
	}
	return -1, errors.New(fmt.Errorf("no capture device matches %q", source)).
		Component(componentName).
		Category(errors.CategoryAudioSource).
		Context("source", source).
		Build()
}

func toDeviceInfos(infos []malgo.DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		out = append(out, DeviceInfo{
			Index:     i,
			Name:      info.Name(),
			ID:        decodeID(info.ID.String()),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out
}
