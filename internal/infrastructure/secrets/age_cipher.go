// Package secrets seals integration credentials at rest with age (X25519).
package secrets

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/infrastructure/config"
)

var (
	ErrNoIdentity    = errors.New("secrets: no age identity configured")
	ErrInvalidSealed = errors.New("secrets: sealed credentials are corrupt")
)

// AgeCipher encrypts credential maps to a set of age recipients and
// decrypts them with a single identity
type AgeCipher struct {
	identity   *age.X25519Identity
	recipients []age.Recipient
}

// NewAgeCipher builds a cipher from configuration. Without an identity,
// production refuses to start and other environments get an ephemeral key
// (credentials sealed with it are unreadable after a restart).
func NewAgeCipher(cfg config.SecretsConfig, production bool, logger *zap.Logger) (*AgeCipher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var identity *age.X25519Identity
	var err error
	if strings.TrimSpace(cfg.Identity) == "" {
		if production {
			return nil, ErrNoIdentity
		}
		identity, err = age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generate age identity: %w", err)
		}
		logger.Warn("no secrets.identity configured, using an ephemeral age key; sealed credentials will not survive a restart",
			zap.String("recipient", identity.Recipient().String()),
		)
	} else {
		identity, err = age.ParseX25519Identity(strings.TrimSpace(cfg.Identity))
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
	}

	c := &AgeCipher{identity: identity}
	if len(cfg.Recipients) == 0 {
		c.recipients = []age.Recipient{identity.Recipient()}
		return c, nil
	}
	for _, key := range cfg.Recipients {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parse age recipient %q: %w", key, err)
		}
		c.recipients = append(c.recipients, r)
	}
	return c, nil
}

// GenerateKeyPair returns a new identity (AGE-SECRET-KEY-1...) and its recipient (age1...)
func GenerateKeyPair() (identity, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", err
	}
	return id.String(), id.Recipient().String(), nil
}

// Recipient returns the public key matching the identity
func (c *AgeCipher) Recipient() string {
	return c.identity.Recipient().String()
}

// Seal encrypts creds as JSON and returns base64 text. Empty credentials seal to "".
func (c *AgeCipher) Seal(creds integration.Credentials) (string, error) {
	if len(creds) == 0 {
		return "", nil
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipients...)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open reverses Seal
func (c *AgeCipher) Open(sealed string) (integration.Credentials, error) {
	if sealed == "" {
		return integration.Credentials{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSealed, err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), c.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSealed, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSealed, err)
	}
	var creds integration.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSealed, err)
	}
	return creds, nil
}
