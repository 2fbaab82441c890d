package trustpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Salt used in key derivation. Fixed by the gateway, not secret.
const derivationSalt = "trustpay/v1"

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Signer produces and verifies trustpay's jws-style tokens:
// base64url(header).base64url(payload).base64url(hmac-sha512).
// Key and key id are derived from the merchant secret, the derivation salt
// and the merchant/terminal identifiers.
type Signer struct {
	key   []byte
	keyID string
}

func NewSigner(secret string, merchantUID string, terminalUID string) *Signer {
	keySum := sha512.Sum512([]byte(secret + derivationSalt + merchantUID + terminalUID))
	kidSum := sha512.Sum512([]byte(derivationSalt + secret + terminalUID + merchantUID))

	return &Signer{
		key:   []byte(hex.EncodeToString(keySum[:])),
		keyID: hex.EncodeToString(kidSum[:])[:16],
	}
}

func (s *Signer) Sign(payload []byte) (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{Alg: "HS512", Kid: s.keyID})
	if err != nil {
		return "", err
	}

	signingInput := encodeSegment(headerJSON) + "." + encodeSegment(payload)

	mac := hmac.New(sha512.New, s.key)
	mac.Write([]byte(signingInput))

	return signingInput + "." + encodeSegment(mac.Sum(nil)), nil
}

// Verify checks the token's mac and key id and returns the decoded payload.
// A mismatch returns false, never an error to retry.
func (s *Signer) Verify(token string) ([]byte, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, false
	}

	headerJSON, err := decodeSegment(parts[0])
	if err != nil {
		return nil, false
	}
	header := tokenHeader{}
	err = json.Unmarshal(headerJSON, &header)
	if err != nil || header.Alg != "HS512" || header.Kid != s.keyID {
		return nil, false
	}

	mac := hmac.New(sha512.New, s.key)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal([]byte(encodeSegment(mac.Sum(nil))), []byte(parts[2])) {
		return nil, false
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, false
	}

	return payload, true
}

// base64url without padding
func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(segment)
}
