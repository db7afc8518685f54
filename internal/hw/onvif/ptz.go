package onvif

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Vector2D is a pan/tilt pair.
type Vector2D struct {
	X float64 `xml:"x,attr"`
	Y float64 `xml:"y,attr"`
}

// Vector1D is a zoom value.
type Vector1D struct {
	X float64 `xml:"x,attr"`
}

// Vector is a PTZ position, translation, velocity or speed. Nil parts
// are left out of the request.
type Vector struct {
	PanTilt *Vector2D `xml:"tt:PanTilt,omitempty"`
	Zoom    *Vector1D `xml:"tt:Zoom,omitempty"`
}

// IsZero reports whether neither part is set.
func (v *Vector) IsZero() bool {
	return v == nil || (v.PanTilt == nil && v.Zoom == nil)
}

type absoluteMove struct {
	XMLName      xml.Name `xml:"tptz:AbsoluteMove"`
	ProfileToken string   `xml:"tptz:ProfileToken"`
	Position     Vector   `xml:"tptz:Position"`
	Speed        *Vector  `xml:"tptz:Speed,omitempty"`
}

type relativeMove struct {
	XMLName      xml.Name `xml:"tptz:RelativeMove"`
	ProfileToken string   `xml:"tptz:ProfileToken"`
	Translation  Vector   `xml:"tptz:Translation"`
	Speed        *Vector  `xml:"tptz:Speed,omitempty"`
}

type continuousMove struct {
	XMLName      xml.Name `xml:"tptz:ContinuousMove"`
	ProfileToken string   `xml:"tptz:ProfileToken"`
	Velocity     Vector   `xml:"tptz:Velocity"`
	Timeout      string   `xml:"tptz:Timeout,omitempty"`
}

type stop struct {
	XMLName      xml.Name `xml:"tptz:Stop"`
	ProfileToken string   `xml:"tptz:ProfileToken"`
	PanTilt      bool     `xml:"tptz:PanTilt"`
	Zoom         bool     `xml:"tptz:Zoom"`
}

type gotoHomePosition struct {
	XMLName      xml.Name `xml:"tptz:GotoHomePosition"`
	ProfileToken string   `xml:"tptz:ProfileToken"`
	Speed        *Vector  `xml:"tptz:Speed,omitempty"`
}

type getStatus struct {
	XMLName      xml.Name `xml:"tptz:GetStatus"`
	ProfileToken string   `xml:"tptz:ProfileToken"`
}

type getStatusResponse struct {
	PTZStatus struct {
		MoveStatus struct {
			PanTilt string `xml:"PanTilt"`
			Zoom    string `xml:"Zoom"`
		} `xml:"MoveStatus"`
	} `xml:"PTZStatus"`
}

// MoveStatus is the PTZ motion state per axis group ("IDLE", "MOVING",
// "UNKNOWN"); empty when the device omits it.
type MoveStatus struct {
	PanTilt string
	Zoom    string
}

// AbsoluteMove moves to position, optionally at speed.
func (c *Client) AbsoluteMove(ctx context.Context, profileToken string, position Vector, speed *Vector) error {
	if speed.IsZero() {
		speed = nil
	}
	return c.call(ctx, ServicePTZ, "AbsoluteMove", absoluteMove{
		ProfileToken: profileToken,
		Position:     position,
		Speed:        speed,
	}, nil)
}

// RelativeMove moves by translation, optionally at speed.
func (c *Client) RelativeMove(ctx context.Context, profileToken string, translation Vector, speed *Vector) error {
	if speed.IsZero() {
		speed = nil
	}
	return c.call(ctx, ServicePTZ, "RelativeMove", relativeMove{
		ProfileToken: profileToken,
		Translation:  translation,
		Speed:        speed,
	}, nil)
}

// ContinuousMove starts moving at velocity. A positive timeout asks the
// device to stop by itself after that duration.
func (c *Client) ContinuousMove(ctx context.Context, profileToken string, velocity Vector, timeout time.Duration) error {
	req := continuousMove{ProfileToken: profileToken, Velocity: velocity}
	if timeout > 0 {
		req.Timeout = xsDuration(timeout)
	}
	return c.call(ctx, ServicePTZ, "ContinuousMove", req, nil)
}

// Stop halts pan/tilt and zoom motion.
func (c *Client) Stop(ctx context.Context, profileToken string) error {
	return c.call(ctx, ServicePTZ, "Stop", stop{ProfileToken: profileToken, PanTilt: true, Zoom: true}, nil)
}

// GotoHomePosition moves to the configured home position.
func (c *Client) GotoHomePosition(ctx context.Context, profileToken string) error {
	return c.call(ctx, ServicePTZ, "GotoHomePosition", gotoHomePosition{ProfileToken: profileToken}, nil)
}

// GetStatus returns the current move status.
func (c *Client) GetStatus(ctx context.Context, profileToken string) (MoveStatus, error) {
	var resp getStatusResponse
	if err := c.call(ctx, ServicePTZ, "GetStatus", getStatus{ProfileToken: profileToken}, &resp); err != nil {
		return MoveStatus{}, err
	}
	ms := resp.PTZStatus.MoveStatus
	return MoveStatus{
		PanTilt: strings.ToUpper(strings.TrimSpace(ms.PanTilt)),
		Zoom:    strings.ToUpper(strings.TrimSpace(ms.Zoom)),
	}, nil
}

// xsDuration formats d as an xs:duration ("PT1.5S").
func xsDuration(d time.Duration) string {
	return fmt.Sprintf("PT%gS", d.Seconds())
}
