package dimension

import (
	"strings"

	model "github.com/okian/starkpi/internal/domain/model"
)

// Client is what can be read from a user-agent string.
type Client struct {
	Browser string
	OS      string
	Device  string
}

const unknown = "Unknown"

// ParseUserAgent classifies a user-agent string by substring heuristics.
// Order matters: Edge and Chrome both announce Safari, iOS announces Mac OS X.
func ParseUserAgent(ua string) Client {
	if strings.TrimSpace(ua) == "" {
		return Client{Browser: unknown, OS: unknown, Device: unknown}
	}

	c := Client{Browser: unknown, OS: unknown, Device: "Desktop"}
	switch {
	case strings.Contains(ua, "Edg/"):
		c.Browser = "Edge"
	case strings.Contains(ua, "Firefox"):
		c.Browser = "Firefox"
	case strings.Contains(ua, "Chrome") || strings.Contains(ua, "CriOS"):
		c.Browser = "Chrome"
	case strings.Contains(ua, "Safari"):
		c.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		c.OS = "iOS"
	case strings.Contains(ua, "Android"):
		c.OS = "Android"
	case strings.Contains(ua, "Windows"):
		c.OS = "Windows"
	case strings.Contains(ua, "Mac"):
		c.OS = "macOS"
	case strings.Contains(ua, "Linux"):
		c.OS = "Linux"
	}

	switch {
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"):
		c.Device = "Tablet"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "Android"), strings.Contains(ua, "Mobile"):
		c.Device = "Mobile"
	}
	return c
}

// SessionAttributes returns the dim_sessions attributes contributed by ev.
// Properties the event does not carry are left out so they do not erase
// values recorded by earlier events of the session.
func SessionAttributes(ev *model.Event) model.Attributes {
	attrs := model.Attributes{
		"session_start": ev.Timestamp.UTC().Format(TimestampLayout),
	}
	if ua := ev.StringProp("user_agent"); ua != "" {
		c := ParseUserAgent(ua)
		attrs["user_agent"] = ua
		attrs["browser"] = c.Browser
		attrs["operating_system"] = c.OS
		attrs["device_type"] = c.Device
	}
	if lang := ev.StringProp("language"); lang != "" {
		attrs["language"] = lang
	}
	if ref := ev.StringProp("referrer"); ref != "" {
		attrs["referrer"] = ref
	}
	return attrs
}

// MergeSession keeps the earliest session_start and lets every other
// attribute follow the latest event that carried it.
func MergeSession(stored, incoming model.Attributes) model.Attributes {
	out := make(model.Attributes, len(stored)+len(incoming))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	if s, ok := stored["session_start"].(string); ok && s != "" {
		if in, ok := incoming["session_start"].(string); !ok || s < in {
			out["session_start"] = s
		}
	}
	return out
}
