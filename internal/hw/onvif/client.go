// Package onvif speaks the small subset of ONVIF (SOAP 1.2 over HTTP)
// needed to drive a PTZ camera: device, media, PTZ and imaging services.
package onvif

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/icholy/digest"
	"github.com/pkg/errors"

	"github.com/cjeanneret/PtzGo/internal/debug"
)

// XML namespaces of the services used.
const (
	nsSOAP    = "http://www.w3.org/2003/05/soap-envelope"
	nsDevice  = "http://www.onvif.org/ver10/device/wsdl"
	nsMedia   = "http://www.onvif.org/ver10/media/wsdl"
	nsPTZ     = "http://www.onvif.org/ver20/ptz/wsdl"
	nsImaging = "http://www.onvif.org/ver20/imaging/wsdl"
	nsSchema  = "http://www.onvif.org/ver10/schema"
	nsWSSE    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
)

const maxResponseBytes = 4 << 20

// Service identifies an ONVIF service endpoint.
type Service int

const (
	ServiceDevice Service = iota
	ServiceMedia
	ServicePTZ
	ServiceImaging
)

func (s Service) String() string {
	switch s {
	case ServiceDevice:
		return "device"
	case ServiceMedia:
		return "media"
	case ServicePTZ:
		return "ptz"
	case ServiceImaging:
		return "imaging"
	default:
		return "unknown"
	}
}

// Params configures a Client.
type Params struct {
	Xaddr              string // host:port or full device service URL
	Username           string
	Password           string
	Timeout            time.Duration // per HTTP request, 0 = none
	InsecureSkipVerify bool
	HTTPClient         *http.Client // optional, replaces the digest-auth client
}

// Client is an ONVIF SOAP client. It is safe for sequential use by one
// run; the endpoint table is guarded for concurrent readers.
type Client struct {
	username string
	password string
	http     *http.Client
	now      func() time.Time

	mu       sync.RWMutex
	services map[Service]string
}

// NewClient builds a client for the device at p.Xaddr. No request is sent;
// call Connect to discover service endpoints.
func NewClient(p Params) (*Client, error) {
	if strings.TrimSpace(p.Xaddr) == "" {
		return nil, errors.New("onvif: empty device address")
	}
	deviceURL := p.Xaddr
	if !strings.HasPrefix(deviceURL, "http://") && !strings.HasPrefix(deviceURL, "https://") {
		deviceURL = "http://" + strings.TrimSuffix(deviceURL, "/") + "/onvif/device_service"
	}

	hc := p.HTTPClient
	if hc == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if p.InsecureSkipVerify {
			base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // cameras ship self-signed certificates
		}
		hc = &http.Client{
			Timeout: p.Timeout,
			Transport: &digest.Transport{
				Username:  p.Username,
				Password:  p.Password,
				Transport: base,
			},
		}
	}

	return &Client{
		username: p.Username,
		password: p.Password,
		http:     hc,
		now:      time.Now,
		services: map[Service]string{ServiceDevice: deviceURL},
	}, nil
}

// Connect queries GetCapabilities and records the media, PTZ and imaging
// endpoints. Services the device does not report fall back to the device
// service URL.
func (c *Client) Connect(ctx context.Context) (*Capabilities, error) {
	caps, err := c.GetCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	device := c.services[ServiceDevice]
	for svc, addr := range map[Service]string{
		ServiceMedia:   caps.Media,
		ServicePTZ:     caps.PTZ,
		ServiceImaging: caps.Imaging,
	} {
		if addr == "" {
			addr = device
		}
		c.services[svc] = addr
	}
	return caps, nil
}

// Endpoint returns the URL used for svc.
func (c *Client) Endpoint(svc Service) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if addr, ok := c.services[svc]; ok {
		return addr
	}
	return c.services[ServiceDevice]
}

// HTTPClient returns the authenticated HTTP client, for snapshot downloads.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Fault is a SOAP fault returned by the device.
type Fault struct {
	Code    string
	Subcode string
	Reason  string
}

func (f *Fault) Error() string {
	code := f.Code
	if f.Subcode != "" {
		code += "/" + f.Subcode
	}
	if f.Reason == "" {
		return "soap fault " + code
	}
	return fmt.Sprintf("soap fault %s: %s", code, f.Reason)
}

type requestEnvelope struct {
	XMLName  xml.Name `xml:"s:Envelope"`
	NsSOAP   string   `xml:"xmlns:s,attr"`
	NsDevice string   `xml:"xmlns:tds,attr"`
	NsMedia  string   `xml:"xmlns:trt,attr"`
	NsPTZ    string   `xml:"xmlns:tptz,attr"`
	NsImg    string   `xml:"xmlns:timg,attr"`
	NsSchema string   `xml:"xmlns:tt,attr"`
	Header   *header  `xml:"s:Header,omitempty"`
	Body     rawBody  `xml:"s:Body"`
}

type header struct {
	Security *security `xml:"wsse:Security"`
}

type rawBody struct {
	Inner []byte `xml:",innerxml"`
}

type responseEnvelope struct {
	Body rawBody `xml:"Body"`
}

type faultXML struct {
	Code struct {
		Value   string `xml:"Value"`
		Subcode struct {
			Value string `xml:"Value"`
		} `xml:"Subcode"`
	} `xml:"Code"`
	Reason struct {
		Text string `xml:"Text"`
	} `xml:"Reason"`
}

// call sends req to the svc endpoint and decodes the first body element
// into resp (which may be nil).
func (c *Client) call(ctx context.Context, svc Service, action string, req, resp interface{}) error {
	endpoint := c.Endpoint(svc)
	debug.SOAP(action, endpoint)

	inner, err := xml.Marshal(req)
	if err != nil {
		return errors.Wrapf(err, "onvif %s: marshal request", action)
	}
	env := requestEnvelope{
		NsSOAP:   nsSOAP,
		NsDevice: nsDevice,
		NsMedia:  nsMedia,
		NsPTZ:    nsPTZ,
		NsImg:    nsImaging,
		NsSchema: nsSchema,
		Body:     rawBody{Inner: inner},
	}
	if c.username != "" {
		sec, err := newSecurity(c.username, c.password, c.now())
		if err != nil {
			return errors.Wrapf(err, "onvif %s", action)
		}
		env.Header = &header{Security: sec}
	}
	payload, err := xml.Marshal(env)
	if err != nil {
		return errors.Wrapf(err, "onvif %s: marshal envelope", action)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(append([]byte(xml.Header), payload...)))
	if err != nil {
		return errors.Wrapf(err, "onvif %s", action)
	}
	httpReq.Header.Set("Content-Type", `application/soap+xml; charset=utf-8`)

	res, err := c.http.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "onvif %s", action)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrapf(err, "onvif %s: read response", action)
	}

	var envResp responseEnvelope
	if xmlErr := xml.Unmarshal(data, &envResp); xmlErr != nil {
		if res.StatusCode != http.StatusOK {
			return errors.Errorf("onvif %s: http %s", action, res.Status)
		}
		return errors.Wrapf(xmlErr, "onvif %s: decode envelope", action)
	}

	first, err := firstElement(envResp.Body.Inner)
	if err != nil {
		if res.StatusCode != http.StatusOK {
			return errors.Errorf("onvif %s: http %s", action, res.Status)
		}
		return errors.Wrapf(err, "onvif %s: empty body", action)
	}
	if first == "Fault" {
		var f faultXML
		if err := xml.Unmarshal(envResp.Body.Inner, &f); err != nil {
			return errors.Wrapf(err, "onvif %s: decode fault", action)
		}
		return errors.WithMessagef(&Fault{
			Code:    localName(f.Code.Value),
			Subcode: localName(f.Code.Subcode.Value),
			Reason:  strings.TrimSpace(f.Reason.Text),
		}, "onvif %s", action)
	}
	if res.StatusCode != http.StatusOK {
		return errors.Errorf("onvif %s: http %s", action, res.Status)
	}
	if resp == nil {
		return nil
	}
	if err := xml.Unmarshal(envResp.Body.Inner, resp); err != nil {
		return errors.Wrapf(err, "onvif %s: decode response", action)
	}
	return nil
}

// firstElement returns the local name of the first element in data.
func firstElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

// localName strips a namespace prefix ("ter:NotAuthorized" -> "NotAuthorized").
func localName(qname string) string {
	qname = strings.TrimSpace(qname)
	if i := strings.LastIndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}
