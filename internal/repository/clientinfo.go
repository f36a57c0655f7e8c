package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"campaign-mailer-go/internal/model"
)

// ClientInfo is the device, browser and OS guessed from a user agent
type ClientInfo struct {
	Device  string `json:"type"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

type rule struct {
	value    string
	contains []string
	excludes []string
}

// Checked in order; first match wins.
var (
	deviceRules = []rule{
		{value: model.DeviceMobile, contains: []string{"mobile", "android", "iphone"}},
		{value: model.DeviceTablet, contains: []string{"tablet", "ipad"}},
	}
	browserRules = []rule{
		{value: "edge", contains: []string{"edg"}},
		{value: "opera", contains: []string{"opr/", "opera"}},
		{value: "chrome", contains: []string{"chrome"}, excludes: []string{"chromium"}},
		{value: "firefox", contains: []string{"firefox"}},
		{value: "safari", contains: []string{"safari"}, excludes: []string{"chrome", "chromium"}},
	}
	osRules = []rule{
		{value: "windows", contains: []string{"windows"}},
		{value: "ios", contains: []string{"iphone", "ipad", "ios"}},
		{value: "macos", contains: []string{"mac os", "macos"}},
		{value: "android", contains: []string{"android"}},
		{value: "linux", contains: []string{"linux"}},
	}
)

func match(ua string, rules []rule, fallback string) string {
	for _, r := range rules {
		if containsAny(ua, r.excludes) {
			continue
		}
		if containsAny(ua, r.contains) {
			return r.value
		}
	}
	return fallback
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ClassifyUserAgent derives client metadata from a user agent string
func ClassifyUserAgent(userAgent string) ClientInfo {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return ClientInfo{Device: model.DeviceUnknown, Browser: "unknown", OS: "unknown"}
	}

	return ClientInfo{
		Device:  match(ua, deviceRules, model.DeviceDesktop),
		Browser: match(ua, browserRules, "unknown"),
		OS:      match(ua, osRules, "unknown"),
	}
}

// HashAddress returns the hex SHA-256 of a client network address
func HashAddress(raw string) string {
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
