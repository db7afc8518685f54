package onvif

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PtzGo/internal/debug"
)

const maxSnapshotBytes = 64 << 20

// Profile is a media profile: encoder resolution plus the tokens needed
// by the PTZ and imaging services.
type Profile struct {
	Token            string
	Name             string
	Width            int
	Height           int
	VideoSourceToken string
	EncoderToken     string // video encoder configuration
	HasPTZ           bool
}

// Area returns the encoder resolution area in pixels.
func (p Profile) Area() int {
	return p.Width * p.Height
}

type getProfiles struct {
	XMLName xml.Name `xml:"trt:GetProfiles"`
}

type getProfilesResponse struct {
	Profiles []struct {
		Token                    string `xml:"token,attr"`
		Name                     string `xml:"Name"`
		VideoSourceConfiguration struct {
			SourceToken string `xml:"SourceToken"`
		} `xml:"VideoSourceConfiguration"`
		VideoEncoderConfiguration struct {
			Token      string `xml:"token,attr"`
			Resolution struct {
				Width  int `xml:"Width"`
				Height int `xml:"Height"`
			} `xml:"Resolution"`
		} `xml:"VideoEncoderConfiguration"`
		PTZConfiguration *struct {
			Token string `xml:"token,attr"`
		} `xml:"PTZConfiguration"`
	} `xml:"Profiles"`
}

// GetProfiles lists the media profiles.
func (c *Client) GetProfiles(ctx context.Context) ([]Profile, error) {
	var resp getProfilesResponse
	if err := c.call(ctx, ServiceMedia, "GetProfiles", getProfiles{}, &resp); err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(resp.Profiles))
	for _, p := range resp.Profiles {
		profiles = append(profiles, Profile{
			Token:            p.Token,
			Name:             strings.TrimSpace(p.Name),
			Width:            p.VideoEncoderConfiguration.Resolution.Width,
			Height:           p.VideoEncoderConfiguration.Resolution.Height,
			VideoSourceToken: strings.TrimSpace(p.VideoSourceConfiguration.SourceToken),
			EncoderToken:     p.VideoEncoderConfiguration.Token,
			HasPTZ:           p.PTZConfiguration != nil,
		})
	}
	return profiles, nil
}

type getSnapshotURI struct {
	XMLName      xml.Name `xml:"trt:GetSnapshotUri"`
	ProfileToken string   `xml:"trt:ProfileToken"`
}

type getSnapshotURIResponse struct {
	MediaURI struct {
		URI string `xml:"Uri"`
	} `xml:"MediaUri"`
}

// GetSnapshotURI returns the HTTP URI serving JPEG snapshots for a profile.
func (c *Client) GetSnapshotURI(ctx context.Context, profileToken string) (string, error) {
	var resp getSnapshotURIResponse
	if err := c.call(ctx, ServiceMedia, "GetSnapshotUri", getSnapshotURI{ProfileToken: profileToken}, &resp); err != nil {
		return "", err
	}
	uri := strings.TrimSpace(resp.MediaURI.URI)
	if uri == "" {
		return "", errors.Errorf("onvif GetSnapshotUri: empty uri for profile %q", profileToken)
	}
	return uri, nil
}

// FetchSnapshot downloads the image at uri with the client credentials.
func (c *Client) FetchSnapshot(ctx context.Context, uri string) ([]byte, error) {
	debug.Trace("snapshot GET %s", uri)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot request")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot request")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("snapshot request: http %s", res.Status)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxSnapshotBytes))
	if err != nil {
		return nil, errors.Wrap(err, "snapshot read")
	}
	if len(data) == 0 {
		return nil, errors.New("snapshot: empty body")
	}
	return data, nil
}
