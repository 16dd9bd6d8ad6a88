// Package vaultclient wraps HashiCorp Vault's Transit secrets engine for
// the two places this module needs server-held key wrapping: embed keys
// for vault-mode embeds (§4.6/§4.7) and the Upload Service's per-file AES
// envelope key (§4.8). It never holds a key capable of decrypting chat
// message bodies — those keys never leave the client.
package vaultclient

import (
	"context"
	"encoding/base64"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/openmates/core/internal/config"
)

// WrappedPrefix marks a ciphertext as Transit-wrapped
// ("vault:v1:<ciphertext>").
const WrappedPrefix = "vault:v1:"

type Client struct {
	vc *vault.Client
}

func New(cfg *config.Config) (*Client, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.VaultAddr
	vc, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	vc.SetToken(cfg.VaultToken)
	return &Client{vc: vc}, nil
}

// Wrap encrypts plaintext under the named Transit key and returns
// "vault:v1:<transit ciphertext>".
func (c *Client) Wrap(ctx context.Context, keyName string, plaintext []byte) (string, error) {
	data := map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	}
	secret, err := c.vc.Logical().WriteWithContext(ctx, "transit/encrypt/"+keyName, data)
	if err != nil {
		return "", fmt.Errorf("transit encrypt: %w", err)
	}
	ct, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return "", fmt.Errorf("transit encrypt: missing ciphertext in response")
	}
	return WrappedPrefix + ct, nil
}

// Unwrap reverses Wrap given the same Transit key name.
func (c *Client) Unwrap(ctx context.Context, keyName string, wrapped string) ([]byte, error) {
	if len(wrapped) < len(WrappedPrefix) {
		return nil, fmt.Errorf("value is not vault:v1: wrapped")
	}
	ct := wrapped[len(WrappedPrefix):]
	data := map[string]interface{}{"ciphertext": ct}
	secret, err := c.vc.Logical().WriteWithContext(ctx, "transit/decrypt/"+keyName, data)
	if err != nil {
		return nil, fmt.Errorf("transit decrypt: %w", err)
	}
	b64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("transit decrypt: missing plaintext in response")
	}
	plaintext, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding transit plaintext: %w", err)
	}
	return plaintext, nil
}

// EnsureKey creates the named Transit key if it does not already exist;
// Vault treats a second create as a no-op, so this is safe to call from
// every process on startup.
func (c *Client) EnsureKey(ctx context.Context, keyName string) error {
	_, err := c.vc.Logical().WriteWithContext(ctx, "transit/keys/"+keyName, map[string]interface{}{
		"type": "aes256-gcm96",
	})
	if err != nil {
		return fmt.Errorf("ensuring transit key %s: %w", keyName, err)
	}
	return nil
}
