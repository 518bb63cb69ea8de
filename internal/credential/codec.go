package credential

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed credential.schema.json
var credentialSchema []byte

// Codec serializes credentials for a slot, optionally sealing them with
// AES-256-GCM.
type Codec struct {
	sealKey []byte
	schema  *jsonschema.Schema
}

func NewCodec(sealKey []byte) (*Codec, error) {
	if len(sealKey) != 0 && len(sealKey) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(sealKey))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("credential.schema.json", bytes.NewReader(credentialSchema)); err != nil {
		return nil, fmt.Errorf("load credential schema: %w", err)
	}
	schema, err := compiler.Compile("credential.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile credential schema: %w", err)
	}
	return &Codec{sealKey: sealKey, schema: schema}, nil
}

// ParseSealKey decodes a base64 seal key; empty input disables sealing.
func ParseSealKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode seal key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *Codec) Encode(cred Credential) ([]byte, error) {
	data, err := json.Marshal(cred)
	if err != nil {
		return nil, err
	}
	if len(c.sealKey) == 0 {
		return data, nil
	}
	sealed, err := seal(data, c.sealKey)
	if err != nil {
		return nil, err
	}
	return []byte(sealed), nil
}

// wireCredential also accepts the authorized-user layout written by Google's
// Python tooling, where the access token is stored under "token".
type wireCredential struct {
	AccessToken  string   `json:"access_token"`
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Expiry       string   `json:"expiry"`
	Scopes       []string `json:"scopes"`
}

// Decode parses a persisted artifact. Anything unreadable is reported as
// ErrCorrupt.
func (c *Codec) Decode(data []byte) (Credential, error) {
	var cred Credential
	if len(c.sealKey) != 0 {
		plain, err := open(string(bytes.TrimSpace(data)), c.sealKey)
		if err != nil {
			return cred, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		data = plain
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return cred, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return cred, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var wire wireCredential
	if err := json.Unmarshal(data, &wire); err != nil {
		return cred, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	cred = Credential{
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		TokenType:    wire.TokenType,
		Scopes:       wire.Scopes,
	}
	if cred.AccessToken == "" {
		cred.AccessToken = wire.Token
	}
	if wire.Expiry != "" {
		expiry, err := parseExpiry(wire.Expiry)
		if err != nil {
			return Credential{}, fmt.Errorf("%w: expiry: %v", ErrCorrupt, err)
		}
		cred.Expiry = expiry
	}
	return cred, nil
}

func parseExpiry(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	// Python's isoformat() omits the zone when the datetime is naive.
	return time.Parse("2006-01-02T15:04:05.999999", value)
}

func seal(plain, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func open(sealed string, key []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}
