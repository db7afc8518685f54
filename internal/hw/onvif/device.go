package onvif

import (
	"context"
	"encoding/xml"
	"strings"
	"time"
)

// Capabilities holds the service addresses reported by the device.
type Capabilities struct {
	Device  string
	Media   string
	PTZ     string
	Imaging string
}

type getCapabilities struct {
	XMLName  xml.Name `xml:"tds:GetCapabilities"`
	Category string   `xml:"tds:Category"`
}

type xaddrXML struct {
	XAddr string `xml:"XAddr"`
}

type getCapabilitiesResponse struct {
	Capabilities struct {
		Device  xaddrXML `xml:"Device"`
		Media   xaddrXML `xml:"Media"`
		PTZ     xaddrXML `xml:"PTZ"`
		Imaging xaddrXML `xml:"Imaging"`
	} `xml:"Capabilities"`
}

// GetCapabilities returns the service addresses of the device.
func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	var resp getCapabilitiesResponse
	if err := c.call(ctx, ServiceDevice, "GetCapabilities", getCapabilities{Category: "All"}, &resp); err != nil {
		return nil, err
	}
	caps := resp.Capabilities
	return &Capabilities{
		Device:  strings.TrimSpace(caps.Device.XAddr),
		Media:   strings.TrimSpace(caps.Media.XAddr),
		PTZ:     strings.TrimSpace(caps.PTZ.XAddr),
		Imaging: strings.TrimSpace(caps.Imaging.XAddr),
	}, nil
}

// DeviceInformation identifies the camera.
type DeviceInformation struct {
	Manufacturer    string `xml:"Manufacturer"`
	Model           string `xml:"Model"`
	FirmwareVersion string `xml:"FirmwareVersion"`
	SerialNumber    string `xml:"SerialNumber"`
	HardwareID      string `xml:"HardwareId"`
}

type getDeviceInformation struct {
	XMLName xml.Name `xml:"tds:GetDeviceInformation"`
}

// GetDeviceInformation returns manufacturer, model and firmware.
func (c *Client) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	var info DeviceInformation
	if err := c.call(ctx, ServiceDevice, "GetDeviceInformation", getDeviceInformation{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type getSystemDateAndTime struct {
	XMLName xml.Name `xml:"tds:GetSystemDateAndTime"`
}

type getSystemDateAndTimeResponse struct {
	SystemDateAndTime struct {
		UTCDateTime struct {
			Date struct {
				Year  int `xml:"Year"`
				Month int `xml:"Month"`
				Day   int `xml:"Day"`
			} `xml:"Date"`
			Time struct {
				Hour   int `xml:"Hour"`
				Minute int `xml:"Minute"`
				Second int `xml:"Second"`
			} `xml:"Time"`
		} `xml:"UTCDateTime"`
	} `xml:"SystemDateAndTime"`
}

// GetSystemDateAndTime returns the device clock in UTC. The call is
// unauthenticated on most devices and serves as a reachability probe.
func (c *Client) GetSystemDateAndTime(ctx context.Context) (time.Time, error) {
	var resp getSystemDateAndTimeResponse
	if err := c.call(ctx, ServiceDevice, "GetSystemDateAndTime", getSystemDateAndTime{}, &resp); err != nil {
		return time.Time{}, err
	}
	u := resp.SystemDateAndTime.UTCDateTime
	return time.Date(u.Date.Year, time.Month(u.Date.Month), u.Date.Day,
		u.Time.Hour, u.Time.Minute, u.Time.Second, 0, time.UTC), nil
}
