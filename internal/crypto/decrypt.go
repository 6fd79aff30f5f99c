package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecryptContent reverses the client-side message encryption: AES-256-CBC with
// PKCS#7 padding, ciphertext encoded as "ivHex:payloadHex" and the key as a
// base64-encoded 256-bit value. Callers treat any error as "show a generic
// caption", never as a fatal condition.
func DecryptContent(encryptedContent, encryptionKey string) (string, error) {
	if encryptedContent == "" || encryptionKey == "" {
		return "", fmt.Errorf("missing encrypted content or encryption key")
	}

	key, err := base64.StdEncoding.DecodeString(encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return "", fmt.Errorf("invalid key length: %d", len(key))
	}

	parts := strings.Split(encryptedContent, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted content format")
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("failed to decode IV: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("invalid IV length: %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("invalid ciphertext length: %d", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = stripPadding(plaintext)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

func stripPadding(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
