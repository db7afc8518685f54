package onvif

import (
	"context"
	"encoding/xml"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PtzGo/internal/debug"
)

// Resolution is an encoder picture size.
type Resolution struct {
	Width  int `xml:"Width"`
	Height int `xml:"Height"`
}

// Area returns the resolution area in pixels.
func (r Resolution) Area() int {
	return r.Width * r.Height
}

// VideoEncoderConfig is a media video encoder configuration as returned
// by the device. Optional parts stay nil when the device omits them.
type VideoEncoderConfig struct {
	Token       string     `xml:"token,attr"`
	Name        string     `xml:"Name"`
	UseCount    int        `xml:"UseCount"`
	Encoding    string     `xml:"Encoding"`
	Resolution  Resolution `xml:"Resolution"`
	Quality     float64    `xml:"Quality"`
	RateControl *struct {
		FrameRateLimit   int `xml:"FrameRateLimit"`
		EncodingInterval int `xml:"EncodingInterval"`
		BitrateLimit     int `xml:"BitrateLimit"`
	} `xml:"RateControl"`
	MPEG4 *struct {
		GovLength    int    `xml:"GovLength"`
		Mpeg4Profile string `xml:"Mpeg4Profile"`
	} `xml:"MPEG4"`
	H264 *struct {
		GovLength   int    `xml:"GovLength"`
		H264Profile string `xml:"H264Profile"`
	} `xml:"H264"`
	Multicast *struct {
		Address struct {
			Type        string `xml:"Type"`
			IPv4Address string `xml:"IPv4Address"`
			IPv6Address string `xml:"IPv6Address"`
		} `xml:"Address"`
		Port      int  `xml:"Port"`
		TTL       int  `xml:"TTL"`
		AutoStart bool `xml:"AutoStart"`
	} `xml:"Multicast"`
	SessionTimeout string `xml:"SessionTimeout"`
}

type getVideoEncoderConfiguration struct {
	XMLName            xml.Name `xml:"trt:GetVideoEncoderConfiguration"`
	ConfigurationToken string   `xml:"trt:ConfigurationToken"`
}

type getVideoEncoderConfigurationResponse struct {
	Configuration VideoEncoderConfig `xml:"Configuration"`
}

// GetVideoEncoderConfiguration reads one encoder configuration.
func (c *Client) GetVideoEncoderConfiguration(ctx context.Context, token string) (*VideoEncoderConfig, error) {
	var resp getVideoEncoderConfigurationResponse
	req := getVideoEncoderConfiguration{ConfigurationToken: token}
	if err := c.call(ctx, ServiceMedia, "GetVideoEncoderConfiguration", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Configuration, nil
}

// EncoderOptions holds the resolutions and frame rate range of one encoding.
type EncoderOptions struct {
	Resolutions  []Resolution `xml:"ResolutionsAvailable"`
	FrameRateMax int          `xml:"FrameRateRange>Max"`
}

// Largest returns the resolution with the greatest area.
func (o *EncoderOptions) Largest() (Resolution, bool) {
	if o == nil || len(o.Resolutions) == 0 {
		return Resolution{}, false
	}
	best := o.Resolutions[0]
	for _, r := range o.Resolutions[1:] {
		if r.Area() > best.Area() {
			best = r
		}
	}
	return best, true
}

// VideoEncoderOptions lists what an encoder configuration accepts, per encoding.
type VideoEncoderOptions struct {
	JPEG  *EncoderOptions `xml:"JPEG"`
	MPEG4 *EncoderOptions `xml:"MPEG4"`
	H264  *EncoderOptions `xml:"H264"`
}

// For returns the options of encoding, falling back to H264 then JPEG
// when the device lists nothing for it.
func (o VideoEncoderOptions) For(encoding string) *EncoderOptions {
	byName := map[string]*EncoderOptions{"JPEG": o.JPEG, "MPEG4": o.MPEG4, "H264": o.H264}
	if opts := byName[encoding]; opts != nil && len(opts.Resolutions) > 0 {
		return opts
	}
	for _, name := range []string{"H264", "JPEG", "MPEG4"} {
		if opts := byName[name]; opts != nil && len(opts.Resolutions) > 0 {
			return opts
		}
	}
	return nil
}

type getVideoEncoderConfigurationOptions struct {
	XMLName            xml.Name `xml:"trt:GetVideoEncoderConfigurationOptions"`
	ConfigurationToken string   `xml:"trt:ConfigurationToken,omitempty"`
	ProfileToken       string   `xml:"trt:ProfileToken,omitempty"`
}

type getVideoEncoderConfigurationOptionsResponse struct {
	Options VideoEncoderOptions `xml:"Options"`
}

// GetVideoEncoderConfigurationOptions reads the encoder options valid for
// a profile and configuration.
func (c *Client) GetVideoEncoderConfigurationOptions(ctx context.Context, profileToken, configToken string) (VideoEncoderOptions, error) {
	var resp getVideoEncoderConfigurationOptionsResponse
	req := getVideoEncoderConfigurationOptions{ConfigurationToken: configToken, ProfileToken: profileToken}
	if err := c.call(ctx, ServiceMedia, "GetVideoEncoderConfigurationOptions", req, &resp); err != nil {
		return VideoEncoderOptions{}, err
	}
	return resp.Options, nil
}

type resolutionXML struct {
	Width  int `xml:"tt:Width"`
	Height int `xml:"tt:Height"`
}

type rateControlXML struct {
	FrameRateLimit   int `xml:"tt:FrameRateLimit"`
	EncodingInterval int `xml:"tt:EncodingInterval"`
	BitrateLimit     int `xml:"tt:BitrateLimit"`
}

type mpeg4XML struct {
	GovLength    int    `xml:"tt:GovLength"`
	Mpeg4Profile string `xml:"tt:Mpeg4Profile"`
}

type h264XML struct {
	GovLength   int    `xml:"tt:GovLength"`
	H264Profile string `xml:"tt:H264Profile"`
}

type multicastXML struct {
	Address struct {
		Type        string `xml:"tt:Type"`
		IPv4Address string `xml:"tt:IPv4Address,omitempty"`
		IPv6Address string `xml:"tt:IPv6Address,omitempty"`
	} `xml:"tt:Address"`
	Port      int  `xml:"tt:Port"`
	TTL       int  `xml:"tt:TTL"`
	AutoStart bool `xml:"tt:AutoStart"`
}

type videoEncoderXML struct {
	Token          string          `xml:"token,attr"`
	Name           string          `xml:"tt:Name"`
	UseCount       int             `xml:"tt:UseCount"`
	Encoding       string          `xml:"tt:Encoding"`
	Resolution     resolutionXML   `xml:"tt:Resolution"`
	Quality        float64         `xml:"tt:Quality"`
	RateControl    *rateControlXML `xml:"tt:RateControl,omitempty"`
	MPEG4          *mpeg4XML       `xml:"tt:MPEG4,omitempty"`
	H264           *h264XML        `xml:"tt:H264,omitempty"`
	Multicast      *multicastXML   `xml:"tt:Multicast,omitempty"`
	SessionTimeout string          `xml:"tt:SessionTimeout"`
}

type setVideoEncoderConfiguration struct {
	XMLName          xml.Name        `xml:"trt:SetVideoEncoderConfiguration"`
	Configuration    videoEncoderXML `xml:"trt:Configuration"`
	ForcePersistence bool            `xml:"trt:ForcePersistence"`
}

func (v *VideoEncoderConfig) toXML() videoEncoderXML {
	out := videoEncoderXML{
		Token:          v.Token,
		Name:           v.Name,
		UseCount:       v.UseCount,
		Encoding:       v.Encoding,
		Resolution:     resolutionXML{Width: v.Resolution.Width, Height: v.Resolution.Height},
		Quality:        v.Quality,
		SessionTimeout: v.SessionTimeout,
	}
	if rc := v.RateControl; rc != nil {
		out.RateControl = &rateControlXML{FrameRateLimit: rc.FrameRateLimit, EncodingInterval: rc.EncodingInterval, BitrateLimit: rc.BitrateLimit}
	}
	if m := v.MPEG4; m != nil {
		out.MPEG4 = &mpeg4XML{GovLength: m.GovLength, Mpeg4Profile: m.Mpeg4Profile}
	}
	if h := v.H264; h != nil {
		out.H264 = &h264XML{GovLength: h.GovLength, H264Profile: h.H264Profile}
	}
	if m := v.Multicast; m != nil {
		mc := &multicastXML{Port: m.Port, TTL: m.TTL, AutoStart: m.AutoStart}
		mc.Address.Type = m.Address.Type
		mc.Address.IPv4Address = m.Address.IPv4Address
		mc.Address.IPv6Address = m.Address.IPv6Address
		out.Multicast = mc
	}
	return out
}

// SetVideoEncoderConfiguration writes cfg back to the device, persisted
// across reboots.
func (c *Client) SetVideoEncoderConfiguration(ctx context.Context, cfg *VideoEncoderConfig) error {
	req := setVideoEncoderConfiguration{Configuration: cfg.toXML(), ForcePersistence: true}
	return c.call(ctx, ServiceMedia, "SetVideoEncoderConfiguration", req, nil)
}

// MaximizeResolution switches the encoder configuration of a profile to
// its largest available resolution and highest frame rate. It returns
// the resolution in effect afterwards. Nothing is written when the
// encoder already runs at those values.
func (c *Client) MaximizeResolution(ctx context.Context, profileToken, configToken string) (Resolution, error) {
	if configToken == "" {
		return Resolution{}, errors.Errorf("onvif: profile %q has no video encoder configuration", profileToken)
	}
	cfg, err := c.GetVideoEncoderConfiguration(ctx, configToken)
	if err != nil {
		return Resolution{}, err
	}
	all, err := c.GetVideoEncoderConfigurationOptions(ctx, profileToken, configToken)
	if err != nil {
		return Resolution{}, err
	}
	opts := all.For(cfg.Encoding)
	best, ok := opts.Largest()
	if !ok {
		debug.Verbose("Encoder %s: no resolution options, keeping %dx%d", configToken, cfg.Resolution.Width, cfg.Resolution.Height)
		return cfg.Resolution, nil
	}

	changed := best != cfg.Resolution
	cfg.Resolution = best
	if cfg.RateControl != nil && opts.FrameRateMax > 0 && cfg.RateControl.FrameRateLimit != opts.FrameRateMax {
		cfg.RateControl.FrameRateLimit = opts.FrameRateMax
		changed = true
	}
	if !changed {
		debug.Verbose("Encoder %s: already at %dx%d", configToken, best.Width, best.Height)
		return best, nil
	}
	if err := c.SetVideoEncoderConfiguration(ctx, cfg); err != nil {
		return Resolution{}, err
	}
	debug.Info("Encoder %s: resolution set to %dx%d", configToken, best.Width, best.Height)
	return best, nil
}
