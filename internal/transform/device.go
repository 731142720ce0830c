package transform

import "strings"

// Device types.
const (
	DeviceTablet  = "tablet"
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
)

var (
	tabletMarkers = []string{"ipad", "tablet"}
	mobileMarkers = []string{"iphone", "android", "mobile"}
)

// classifyDevice maps a user agent to a device type. Tablet markers are
// checked first since tablet agents often also say "mobile".
func classifyDevice(userAgent *string) *string {
	if userAgent == nil || *userAgent == "" {
		return nil
	}
	ua := strings.ToLower(*userAgent)

	device := DeviceDesktop
	switch {
	case containsAny(ua, tabletMarkers):
		device = DeviceTablet
	case containsAny(ua, mobileMarkers):
		device = DeviceMobile
	}
	return &device
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
