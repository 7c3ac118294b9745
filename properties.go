/************************************************************************************
 *
 * crescendo, A Go client library for Spacebar-compatible chat instances
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 The Crescendo Contributors
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package crescendo

import (
	"encoding/base64"

	"github.com/bytedance/sonic"
)

// ReleaseChannel identifies the simulated client's release train.
type ReleaseChannel string

const (
	ReleaseChannelStable      ReleaseChannel = "stable"
	ReleaseChannelPtb         ReleaseChannel = "ptb"
	ReleaseChannelCanary      ReleaseChannel = "canary"
	ReleaseChannelDevelopment ReleaseChannel = "development"
)

// ClientProperties describes the client identity a session presents to an
// instance. It is always sent as the `properties` field of Identify, and,
// unless telemetry headers are disabled, also attached to HTTP requests as
// the X-Super-Properties header (base64-encoded JSON).
type ClientProperties struct {
	// SendTelemetryHeaders controls the HTTP telemetry headers only; the
	// identify field is required by the server schema and always sent.
	SendTelemetryHeaders bool `json:"-"`

	OS           string `json:"os"`
	OSVersion    string `json:"os_version,omitempty"`
	OSArch       string `json:"os_arch,omitempty"`
	AppArch      string `json:"app_arch,omitempty"`
	OSSdkVersion string `json:"os_sdk_version,omitempty"`

	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`

	ClientBuildNumber int    `json:"client_build_number,omitempty"`
	NativeBuildNumber int    `json:"native_build_number,omitempty"`
	ClientVersion     string `json:"client_version,omitempty"`

	ReleaseChannel ReleaseChannel `json:"release_channel,omitempty"`
	SystemLocale   string         `json:"system_locale,omitempty"`

	// Mobile-only fields.
	Device         string `json:"device,omitempty"`
	DeviceVendorID string `json:"device_vendor_id,omitempty"`

	// Linux descriptors.
	WindowManager string `json:"window_manager,omitempty"`
	Distro        string `json:"distro,omitempty"`

	Referrer               string `json:"referrer"`
	ReferrerCurrent        string `json:"referrer_current"`
	ReferringDomain        string `json:"referring_domain"`
	ReferringDomainCurrent string `json:"referring_domain_current"`
	SearchEngine           string `json:"search_engine,omitempty"`
	SearchEngineCurrent    string `json:"search_engine_current,omitempty"`

	HasClientMods bool `json:"has_client_mods"`
}

const (
	commonClientVersion     = "1.0.9177"
	commonClientBuildNumber = 350723
	commonUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) discord/1.0.9177 Chrome/128.0.6613.186 Electron/32.2.7 Safari/537.36"
	commonWebUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"
)

// MinimalProperties returns the smallest property set instances accept.
func MinimalProperties() ClientProperties {
	return ClientProperties{
		SendTelemetryHeaders: true,
		OS:                   "other",
		Browser:              "other",
		SystemLocale:         "en-US",
		ReleaseChannel:       ReleaseChannelStable,
	}
}

// CommonProperties returns the property set a typical stock desktop client
// would present. Alias for CommonDesktopWindows, the most common platform.
func CommonProperties() ClientProperties {
	return CommonDesktopWindows()
}

// CommonDesktopWindows mimics the stock desktop client on Windows.
func CommonDesktopWindows() ClientProperties {
	return ClientProperties{
		SendTelemetryHeaders: true,
		OS:                   "Windows",
		OSVersion:            "10.0.19045",
		OSArch:               "x64",
		AppArch:              "x64",
		Browser:              "Discord Client",
		UserAgent:            commonUserAgent,
		ClientBuildNumber:    commonClientBuildNumber,
		NativeBuildNumber:    60461,
		ClientVersion:        commonClientVersion,
		ReleaseChannel:       ReleaseChannelStable,
		SystemLocale:         "en-US",
	}
}

// CommonDesktopMacOS mimics the stock desktop client on macOS.
func CommonDesktopMacOS() ClientProperties {
	p := CommonDesktopWindows()
	p.OS = "Mac OS X"
	p.OSVersion = "14.6.1"
	p.OSArch = "arm64"
	p.AppArch = "arm64"
	return p
}

// CommonDesktopLinux mimics the stock desktop client on Linux.
func CommonDesktopLinux() ClientProperties {
	p := CommonDesktopWindows()
	p.OS = "Linux"
	p.OSVersion = "6.8.0"
	p.WindowManager = "GNOME,unknown"
	p.Distro = `"Ubuntu 24.04.1 LTS"`
	return p
}

// CommonWebWindows mimics the web client in a Chrome browser on Windows.
func CommonWebWindows() ClientProperties {
	return ClientProperties{
		SendTelemetryHeaders: true,
		OS:                   "Windows",
		OSVersion:            "10",
		Browser:              "Chrome",
		BrowserVersion:       "132.0.0.0",
		UserAgent:            commonWebUserAgent,
		ClientBuildNumber:    commonClientBuildNumber,
		ReleaseChannel:       ReleaseChannelStable,
		SystemLocale:         "en-US",
	}
}

// SuperProperties serializes the properties to the base64 JSON blob carried
// by the X-Super-Properties header.
func (p ClientProperties) SuperProperties() string {
	raw, err := sonic.Marshal(p)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// ParseSuperProperties decodes a base64 JSON blob back into properties.
func ParseSuperProperties(blob string) (ClientProperties, error) {
	var p ClientProperties
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return p, err
	}
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return p, err
	}
	p.SendTelemetryHeaders = true
	return p, nil
}

// RequestUserAgent returns the User-Agent header value for HTTP requests.
func (p ClientProperties) RequestUserAgent() string {
	if p.UserAgent != "" {
		return p.UserAgent
	}
	return "crescendo/1.0 (" + p.OS + "; " + p.Browser + ")"
}
