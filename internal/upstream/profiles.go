package upstream

import "net/http"

// Profile selects the set of client-identifying headers sent with a call.
type Profile string

const (
	ProfileMobileApp Profile = "mobile-app"
	ProfileBrowser   Profile = "browser"
)

// Valid reports whether p is one of the known profiles.
func (p Profile) Valid() bool {
	return p == ProfileMobileApp || p == ProfileBrowser
}

// Profiles maps each profile to its header values.
type Profiles map[Profile]map[string]string

// DefaultProfiles returns header values matching the carrier's iOS app and
// a desktop Chrome session on its website.
func DefaultProfiles() Profiles {
	return Profiles{
		ProfileMobileApp: {
			"User-Agent":                   "giffgaff/1332 CFNetwork/1568.300.101 Darwin/24.2.0",
			"x-gg-app-os":                  "iOS",
			"x-gg-app-os-version":          "14",
			"x-gg-app-build-number":        "722",
			"x-gg-app-device-manufacturer": "apple",
			"x-gg-app-device-model":        "iphone15",
			"x-gg-app-version":             "13.21.2",
		},
		ProfileBrowser: {
			"User-Agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			"Accept":             "*/*",
			"Accept-Language":    "en-GB,en-US;q=0.9,en;q=0.8",
			"Origin":             "https://www.giffgaff.com",
			"Referer":            "https://www.giffgaff.com/",
			"sec-ch-ua":          `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
			"sec-ch-ua-mobile":   "?0",
			"sec-ch-ua-platform": `"Windows"`,
			"Sec-Fetch-Dest":     "empty",
			"Sec-Fetch-Mode":     "cors",
			"Sec-Fetch-Site":     "same-site",
			"Cache-Control":      "no-cache",
			"Pragma":             "no-cache",
		},
	}
}

// Merge returns a copy of p with overrides applied per header. An empty
// override value removes the header.
func (p Profiles) Merge(overrides map[string]map[string]string) Profiles {
	out := make(Profiles, len(p))
	for name, values := range p {
		cp := make(map[string]string, len(values))
		for k, v := range values {
			cp[k] = v
		}
		out[name] = cp
	}
	for name, values := range overrides {
		prof := Profile(name)
		if out[prof] == nil {
			out[prof] = map[string]string{}
		}
		for k, v := range values {
			if v == "" {
				delete(out[prof], k)
				continue
			}
			out[prof][k] = v
		}
	}
	return out
}

// Apply sets the profile headers on h.
func (p Profiles) Apply(profile Profile, h http.Header) {
	for k, v := range p[profile] {
		h.Set(k, v)
	}
}
