package users

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// KeyVault は BYOK の API キーを secretbox で封緘します。
type KeyVault struct {
	key *[32]byte
}

// NewKeyVault は32バイト鍵から KeyVault を作成します。
func NewKeyVault(key *[32]byte) *KeyVault {
	return &KeyVault{key: key}
}

// Seal は平文のキーを nonce 付きで暗号化します。
func (v *KeyVault) Seal(plaintext string) ([]byte, error) {
	if v == nil || v.key == nil {
		return nil, fmt.Errorf("byok vault is not configured")
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, v.key), nil
}

// Open は Seal の出力を復号します。
func (v *KeyVault) Open(sealed []byte) (string, error) {
	if v == nil || v.key == nil {
		return "", fmt.Errorf("byok vault is not configured")
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrSealedKey
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, v.key)
	if !ok {
		return "", ErrSealedKey
	}
	return string(plain), nil
}
