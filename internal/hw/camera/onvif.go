package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/PtzGo/internal/debug"
	"github.com/cjeanneret/PtzGo/internal/hw/onvif"
)

// ONVIFConfig holds the connection parameters of an ONVIF camera.
type ONVIFConfig struct {
	Xaddr              string // host:port or device service URL
	Username           string
	Password           string
	Timeout            time.Duration
	InsecureSkipVerify bool
	Stream             string // "main" = largest profile, "sub" = smallest
	ProfileToken       string // explicit profile, overrides Stream
	MaxResolution      bool   // raise the profile encoder to its largest resolution on connect
}

// ONVIFCamera is a Device backed by an ONVIF endpoint.
// It drives the PTZ and imaging services through one media profile.
type ONVIFCamera struct {
	client  *onvif.Client
	profile onvif.Profile

	mu          sync.Mutex
	snapshotURI string
}

// DialONVIF connects to the camera, discovers its services and selects
// the media profile used for moves, focus and snapshots.
func DialONVIF(ctx context.Context, cfg ONVIFConfig) (*ONVIFCamera, error) {
	client, err := onvif.NewClient(onvif.Params{
		Xaddr:              cfg.Xaddr,
		Username:           cfg.Username,
		Password:           cfg.Password,
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	cam, err := newONVIFCamera(ctx, client, cfg.Stream, cfg.ProfileToken)
	if err != nil {
		return nil, err
	}
	if cfg.MaxResolution {
		if err := cam.MaximizeResolution(ctx); err != nil {
			return nil, err
		}
	}
	return cam, nil
}

func newONVIFCamera(ctx context.Context, client *onvif.Client, stream, token string) (*ONVIFCamera, error) {
	debug.Verbose("Camera: connecting to %s", client.Endpoint(onvif.ServiceDevice))
	if _, err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	profiles, err := client.GetProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	profile, err := SelectProfile(profiles, stream, token)
	if err != nil {
		return nil, err
	}
	debug.Verbose("Camera: profile %q (%s) %dx%d, video source %q",
		profile.Token, profile.Name, profile.Width, profile.Height, profile.VideoSourceToken)
	return &ONVIFCamera{client: client, profile: profile}, nil
}

// SelectProfile picks a media profile: the one named by token when set,
// otherwise the largest resolution for "main" and the smallest for "sub".
func SelectProfile(profiles []onvif.Profile, stream, token string) (onvif.Profile, error) {
	if len(profiles) == 0 {
		return onvif.Profile{}, fmt.Errorf("device reports no media profiles")
	}
	if token != "" {
		for _, p := range profiles {
			if p.Token == token {
				return p, nil
			}
		}
		return onvif.Profile{}, fmt.Errorf("media profile %q not found", token)
	}

	best := profiles[0]
	for _, p := range profiles[1:] {
		switch stream {
		case "sub":
			if p.Area() < best.Area() {
				best = p
			}
		default:
			if p.Area() > best.Area() {
				best = p
			}
		}
	}
	return best, nil
}

// Profile returns the selected media profile.
func (c *ONVIFCamera) Profile() onvif.Profile {
	return c.profile
}

// MaximizeResolution sets the encoder of the selected profile to its
// largest resolution, so snapshots come at full size.
func (c *ONVIFCamera) MaximizeResolution(ctx context.Context) error {
	res, err := c.client.MaximizeResolution(ctx, c.profile.Token, c.profile.EncoderToken)
	if err != nil {
		return fmt.Errorf("max resolution: %w", err)
	}
	c.profile.Width, c.profile.Height = res.Width, res.Height
	return nil
}

// Client returns the underlying ONVIF client.
func (c *ONVIFCamera) Client() *onvif.Client {
	return c.client
}

// Snapshot fetches a JPEG from the profile's snapshot URI.
func (c *ONVIFCamera) Snapshot(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	uri := c.snapshotURI
	c.mu.Unlock()
	if uri == "" {
		u, err := c.client.GetSnapshotURI(ctx, c.profile.Token)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snapshotURI = u
		c.mu.Unlock()
		uri = u
		debug.Verbose("Camera: snapshot uri %s", uri)
	}
	return c.client.FetchSnapshot(ctx, uri)
}

func (c *ONVIFCamera) AbsoluteMove(ctx context.Context, position Vector, speed *Vector) error {
	return c.client.AbsoluteMove(ctx, c.profile.Token, toONVIF(position), toONVIFPtr(speed))
}

func (c *ONVIFCamera) RelativeMove(ctx context.Context, delta Vector, speed *Vector) error {
	return c.client.RelativeMove(ctx, c.profile.Token, toONVIF(delta), toONVIFPtr(speed))
}

// ContinuousMove starts a move without a device-side timeout; the caller
// issues Stop.
func (c *ONVIFCamera) ContinuousMove(ctx context.Context, velocity Vector) error {
	return c.client.ContinuousMove(ctx, c.profile.Token, toONVIF(velocity), 0)
}

func (c *ONVIFCamera) Stop(ctx context.Context) error {
	return c.client.Stop(ctx, c.profile.Token)
}

func (c *ONVIFCamera) Status(ctx context.Context) (MoveStatus, error) {
	st, err := c.client.GetStatus(ctx, c.profile.Token)
	if err != nil {
		return MoveStatus{}, err
	}
	return MoveStatus{PanTilt: st.PanTilt, Zoom: st.Zoom}, nil
}

func (c *ONVIFCamera) GotoHome(ctx context.Context) error {
	return c.client.GotoHomePosition(ctx, c.profile.Token)
}

func (c *ONVIFCamera) FocusSettings(ctx context.Context) (*FocusSettings, error) {
	if c.profile.VideoSourceToken == "" {
		return nil, nil
	}
	fs, err := c.client.GetFocusSettings(ctx, c.profile.VideoSourceToken)
	if err != nil || fs == nil {
		return nil, err
	}
	return &FocusSettings{
		Mode:         fs.AutoFocusMode,
		DefaultSpeed: fs.DefaultSpeed,
		NearLimit:    fs.NearLimit,
		FarLimit:     fs.FarLimit,
	}, nil
}

func (c *ONVIFCamera) SetFocusSettings(ctx context.Context, fs FocusSettings) error {
	if c.profile.VideoSourceToken == "" {
		return fmt.Errorf("profile %q has no video source", c.profile.Token)
	}
	return c.client.SetFocusSettings(ctx, c.profile.VideoSourceToken, onvif.FocusSettings{
		AutoFocusMode: fs.Mode,
		DefaultSpeed:  fs.DefaultSpeed,
		NearLimit:     fs.NearLimit,
		FarLimit:      fs.FarLimit,
	})
}

// Close releases idle HTTP connections.
func (c *ONVIFCamera) Close() error {
	c.client.HTTPClient().CloseIdleConnections()
	return nil
}

func toONVIF(v Vector) onvif.Vector {
	var out onvif.Vector
	if v.PanTilt != nil {
		out.PanTilt = &onvif.Vector2D{X: v.PanTilt.Pan, Y: v.PanTilt.Tilt}
	}
	if v.Zoom != nil {
		out.Zoom = &onvif.Vector1D{X: *v.Zoom}
	}
	return out
}

func toONVIFPtr(v *Vector) *onvif.Vector {
	if v == nil || v.IsZero() {
		return nil
	}
	out := toONVIF(*v)
	return &out
}
