package integration

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/simpleelforbrug/elforbrug/pkg/log"
)

// credentials is what gets sealed into Entry.EncryptedRefreshToken.
type credentials struct {
	RefreshToken string `json:"refreshToken"`
}

func newGCM(ctx context.Context, encryptionKey string) (cipher.AEAD, error) {
	if encryptionKey == "" {
		log.Ctx(ctx).ErrorContext(ctx, "no encryption key configured")
		return nil, errors.New("no encryption key configured")
	}

	key := []byte(encryptionKey)
	if len(key) != 32 {
		log.Ctx(ctx).ErrorContext(ctx, "invalid encryption key length (must be 32 bytes)", slog.Int("length", len(key)))
		return nil, errors.New("invalid encryption key length (must be 32 bytes)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create cipher", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create gcm", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

func (m *Manager) decryptRefreshToken(ctx context.Context, encrypted []byte) (string, error) {
	if len(encrypted) == 0 {
		return "", errors.New("entry has no refresh token")
	}

	gcm, err := newGCM(ctx, m.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("cannot decrypt refresh token: %w", err)
	}

	if len(encrypted) < gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed encrypted refresh token", slog.Int("length", len(encrypted)))
		return "", errors.New("malformed encrypted refresh token")
	}

	nonce, ciphertext := encrypted[:gcm.NonceSize()], encrypted[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt refresh token", slog.Any("error", err))
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	var creds credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to unmarshal credentials", slog.Any("error", err))
		return "", fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return creds.RefreshToken, nil
}

func (m *Manager) encryptRefreshToken(ctx context.Context, refreshToken string) ([]byte, error) {
	gcm, err := newGCM(ctx, m.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("cannot encrypt refresh token: %w", err)
	}

	jsonBytes, err := json.Marshal(credentials{RefreshToken: refreshToken})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to marshal credentials", slog.Any("error", err))
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, jsonBytes, nil), nil
}
