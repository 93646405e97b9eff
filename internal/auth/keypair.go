// Package auth implements the login cryptography: the server RSA key pair,
// verify tokens, the session server hash and player identity checks.
package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"fmt"

	"github.com/energizer-project/quarry/internal/protocol"
)

const (
	// KeyBits is the size of the login RSA key the client expects.
	KeyBits = 1024
	// VerifyTokenSize is the length of the random verify token.
	VerifyTokenSize = 4
)

// KeyPair is the server's login key. It is generated once at start-up and
// shared read-only by all connections.
type KeyPair struct {
	private *rsa.PrivateKey
	public  []byte
}

// GenerateKeyPair creates a fresh RSA key pair.
func GenerateKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return &KeyPair{private: key, public: der}, nil
}

// PublicKey returns the PKIX DER encoded public key sent in the encryption
// request.
func (k *KeyPair) PublicKey() []byte {
	return k.public
}

// Decrypt reverses the client's PKCS#1 v1.5 encryption.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, k.private, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrAuthenticationFailed, err)
	}
	return plain, nil
}

// NewVerifyToken returns VerifyTokenSize random bytes.
func NewVerifyToken() ([]byte, error) {
	token := make([]byte, VerifyTokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("failed to generate verify token: %w", err)
	}
	return token, nil
}

// CheckEncryptionResponse decrypts the client's answer, checks the verify
// token in constant time and returns the shared secret.
func (k *KeyPair) CheckEncryptionResponse(resp *protocol.EncryptionResponse, token []byte) ([]byte, error) {
	gotToken, err := k.Decrypt(resp.VerifyToken)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if subtle.ConstantTimeCompare(gotToken, token) != 1 {
		return nil, fmt.Errorf("%w: verify token mismatch", protocol.ErrAuthenticationFailed)
	}
	secret, err := k.Decrypt(resp.SharedSecret)
	if err != nil {
		return nil, fmt.Errorf("shared secret: %w", err)
	}
	if len(secret) != protocol.SharedSecretSize {
		return nil, fmt.Errorf("%w: shared secret is %d bytes", protocol.ErrAuthenticationFailed, len(secret))
	}
	return secret, nil
}
