// Package crypto 提供 OAuth Token 的落库加密
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keySize = 32
	// sealedPrefix 密文版本前缀，便于以后轮换算法
	sealedPrefix = "v1:"
)

var (
	// ErrInvalidKey 密钥格式或长度无效
	ErrInvalidKey = errors.New("encryption key must decode to 32 bytes (hex, base64 or raw)")
	// ErrInvalidCiphertext 密文格式无效
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")
	// ErrDecryptionFailed 解密失败（密钥不匹配或密文被篡改）
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
)

// TokenCipher AES-256-GCM Token 加解密
// 密文格式：v1:base64(nonce + ciphertext + tag)
type TokenCipher struct {
	aead cipher.AEAD
}

// ParseKey 解析配置中的密钥：64 位 hex、base64 或 32 字节原文
func ParseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if len(key) == keySize*2 {
		if b, err := hex.DecodeString(key); err == nil {
			return b, nil
		}
	}
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == keySize {
		return b, nil
	}
	if len(key) == keySize {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("%w: got %d characters", ErrInvalidKey, len(key))
}

// NewTokenCipher 创建 Token 加密器
func NewTokenCipher(key string) (*TokenCipher, error) {
	raw, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Seal 加密 Token；空字符串原样返回（无 refresh_token 的情况）
// binding 作为附加认证数据，密文只能在相同 binding 下解密
func (c *TokenCipher) Seal(plaintext, binding string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(binding))
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open 解密 Seal 产生的密文
func (c *TokenCipher) Open(sealed, binding string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	payload, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrInvalidCiphertext
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(decoded) < nonceSize+c.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	nonce, encrypted := decoded[:nonceSize], decoded[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, encrypted, []byte(binding))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
