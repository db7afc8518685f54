package onvif

import (
	"context"
	"encoding/xml"
	"strings"
)

// FocusSettings is the focus part of the imaging settings.
// Nil limits are not reported by, or not sent to, the device.
type FocusSettings struct {
	AutoFocusMode string
	DefaultSpeed  *float64
	NearLimit     *float64
	FarLimit      *float64
}

type getImagingSettings struct {
	XMLName          xml.Name `xml:"timg:GetImagingSettings"`
	VideoSourceToken string   `xml:"timg:VideoSourceToken"`
}

type getImagingSettingsResponse struct {
	ImagingSettings struct {
		Focus *struct {
			AutoFocusMode string   `xml:"AutoFocusMode"`
			DefaultSpeed  *float64 `xml:"DefaultSpeed"`
			NearLimit     *float64 `xml:"NearLimit"`
			FarLimit      *float64 `xml:"FarLimit"`
		} `xml:"Focus"`
	} `xml:"ImagingSettings"`
}

type focusXML struct {
	AutoFocusMode string   `xml:"tt:AutoFocusMode,omitempty"`
	DefaultSpeed  *float64 `xml:"tt:DefaultSpeed,omitempty"`
	NearLimit     *float64 `xml:"tt:NearLimit,omitempty"`
	FarLimit      *float64 `xml:"tt:FarLimit,omitempty"`
}

type setImagingSettings struct {
	XMLName          xml.Name `xml:"timg:SetImagingSettings"`
	VideoSourceToken string   `xml:"timg:VideoSourceToken"`
	ImagingSettings  struct {
		Focus focusXML `xml:"tt:Focus"`
	} `xml:"timg:ImagingSettings"`
	ForcePersistence bool `xml:"timg:ForcePersistence"`
}

// GetFocusSettings returns the focus settings of a video source, or nil
// when the device reports none.
func (c *Client) GetFocusSettings(ctx context.Context, videoSourceToken string) (*FocusSettings, error) {
	var resp getImagingSettingsResponse
	if err := c.call(ctx, ServiceImaging, "GetImagingSettings", getImagingSettings{VideoSourceToken: videoSourceToken}, &resp); err != nil {
		return nil, err
	}
	f := resp.ImagingSettings.Focus
	if f == nil {
		return nil, nil
	}
	return &FocusSettings{
		AutoFocusMode: strings.ToUpper(strings.TrimSpace(f.AutoFocusMode)),
		DefaultSpeed:  f.DefaultSpeed,
		NearLimit:     f.NearLimit,
		FarLimit:      f.FarLimit,
	}, nil
}

// SetFocusSettings writes only the focus part of the imaging settings,
// without persisting it across reboots.
func (c *Client) SetFocusSettings(ctx context.Context, videoSourceToken string, fs FocusSettings) error {
	req := setImagingSettings{VideoSourceToken: videoSourceToken}
	req.ImagingSettings.Focus = focusXML{
		AutoFocusMode: fs.AutoFocusMode,
		DefaultSpeed:  fs.DefaultSpeed,
		NearLimit:     fs.NearLimit,
		FarLimit:      fs.FarLimit,
	}
	return c.call(ctx, ServiceImaging, "SetImagingSettings", req, nil)
}
