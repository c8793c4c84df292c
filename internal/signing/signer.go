// Package signing produces and verifies HMAC-SHA256 signatures over event
// payloads so downstream consumers can detect tampering.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"go.uber.org/zap"

	appErrors "sigilmem-backend/pkg/errors"
)

// Signer signs serialized payloads and verifies received signatures.
type Signer interface {
	Sign(payload []byte) (string, error)
	Verify(payload []byte, signature string) error
}

type hmacSigner struct {
	logger *zap.Logger
	secret []byte
}

// NewSigner builds an HMAC-SHA256 signer. An empty secret is a hard error:
// refusing to start beats silently emitting unsigned events.
func NewSigner(logger *zap.Logger, secret string) (Signer, error) {
	if secret == "" {
		return nil, appErrors.NewMissingSecret("signing secret is not configured")
	}
	return &hmacSigner{logger: logger, secret: []byte(secret)}, nil
}

// canonicalize re-encodes payload JSON so key order does not affect the
// signature. Non-JSON payloads are signed as-is.
func canonicalize(payload []byte) []byte {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return payload
	}
	canonical, err := json.Marshal(value)
	if err != nil {
		return payload
	}
	return canonical
}

func (s *hmacSigner) Sign(payload []byte) (string, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonicalize(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s *hmacSigner) Verify(payload []byte, signature string) error {
	expected, err := s.Sign(payload)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return appErrors.NewValidation("event signature does not match payload")
	}
	return nil
}

// insecureSigner emits empty signatures and accepts anything. Only for
// local development, and only through the explicit constructor below.
type insecureSigner struct {
	logger *zap.Logger
}

// NewInsecureDevSigner is the development-mode opt-out of signing. Callers
// must set dev mode in config to reach this path.
func NewInsecureDevSigner(logger *zap.Logger) Signer {
	logger.Warn("event signing disabled, do not use in production")
	return &insecureSigner{logger: logger}
}

func (s *insecureSigner) Sign([]byte) (string, error) { return "", nil }

func (s *insecureSigner) Verify([]byte, string) error { return nil }
