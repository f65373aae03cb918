package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RequestVersion is the signing scheme version sent with every trade request.
const RequestVersion = "1"

// RequestSigner produces body signatures for trading endpoints.
type RequestSigner struct {
	signer *Signer
}

func NewRequestSigner(s *Signer) *RequestSigner {
	return &RequestSigner{signer: s}
}

// SignRequest signs "{version},{request_id},{timestamp},{payload}" and
// returns the base64 signature. Same inputs and key give the same output.
func (r *RequestSigner) SignRequest(version, requestID string, timestampMs int64, payload string) string {
	msg := canonicalRequest(version, requestID, timestampMs, payload)
	return base64.StdEncoding.EncodeToString(r.signer.Sign([]byte(msg)))
}

// RequestID returns a fresh correlation id. Ids are never reused.
func (r *RequestSigner) RequestID() string {
	return uuid.NewString()
}

// ClientID is the base58 public key of the underlying signer.
func (r *RequestSigner) ClientID() string {
	return r.signer.PublicKeyBase58()
}

// VerifyRequest checks a base64 body signature against pub.
func VerifyRequest(pub ed25519.PublicKey, version, requestID string, timestampMs int64, payload, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(canonicalRequest(version, requestID, timestampMs, payload)), sig)
}

func canonicalRequest(version, requestID string, timestampMs int64, payload string) string {
	var sb strings.Builder
	sb.Grow(len(version) + len(requestID) + len(payload) + 24)
	sb.WriteString(version)
	sb.WriteByte(',')
	sb.WriteString(requestID)
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatInt(timestampMs, 10))
	sb.WriteByte(',')
	sb.WriteString(payload)
	return sb.String()
}
