package onvif

import (
	"crypto/sha1" //nolint:gosec // WS-Security PasswordDigest is defined over SHA-1
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

const (
	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	base64EncodingType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

type security struct {
	NsWSSE         string        `xml:"xmlns:wsse,attr"`
	NsWSU          string        `xml:"xmlns:wsu,attr"`
	MustUnderstand string        `xml:"s:mustUnderstand,attr"`
	Token          usernameToken `xml:"wsse:UsernameToken"`
}

type usernameToken struct {
	Username string      `xml:"wsse:Username"`
	Password typedText   `xml:"wsse:Password"`
	Nonce    encodedText `xml:"wsse:Nonce"`
	Created  string      `xml:"wsu:Created"`
}

type typedText struct {
	Type  string `xml:"Type,attr"`
	Value string `xml:",chardata"`
}

type encodedText struct {
	EncodingType string `xml:"EncodingType,attr"`
	Value        string `xml:",chardata"`
}

// newSecurity builds a UsernameToken header with a PasswordDigest:
// Base64(SHA1(nonce + created + password)).
func newSecurity(username, password string, now time.Time) (*security, error) {
	id := uuid.New()
	nonce, err := id.MarshalBinary()
	if err != nil {
		return nil, err
	}
	created := now.UTC().Format("2006-01-02T15:04:05.000Z")
	return &security{
		NsWSSE:         nsWSSE,
		NsWSU:          nsWSU,
		MustUnderstand: "1",
		Token: usernameToken{
			Username: username,
			Password: typedText{Type: passwordDigestType, Value: passwordDigest(nonce, created, password)},
			Nonce:    encodedText{EncodingType: base64EncodingType, Value: base64.StdEncoding.EncodeToString(nonce)},
			Created:  created,
		},
	}, nil
}

func passwordDigest(nonce []byte, created, password string) string {
	h := sha1.New() //nolint:gosec
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
