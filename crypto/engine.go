package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const envelopeKeySize = 32

var (
	// ErrDecryption indicates ciphertext that cannot be decrypted with the
	// provided key material. Recoverable: callers substitute
	// UndecryptableText, they never propagate a crash.
	ErrDecryption = errors.New("crypto: decryption failed")
	// ErrMessageTooLong indicates plaintext over the asymmetric scheme's
	// size bound; callers use the envelope scheme instead.
	ErrMessageTooLong = errors.New("crypto: plaintext exceeds asymmetric size bound")
)

// UndecryptableText is the sentinel shown in place of a message that
// could not be decrypted.
const UndecryptableText = "[undecryptable message]"

// Suite selects the AEAD used for envelope encryption.
type Suite string

const (
	// SuiteAESGCM is AES-256-GCM, the default.
	SuiteAESGCM Suite = "aes-256-gcm"
	// SuiteXChaCha20 is XChaCha20-Poly1305.
	SuiteXChaCha20 Suite = "xchacha20-poly1305"
)

// Envelope is one symmetric encryption result. Key and IV are raw; the
// caller wraps Key per recipient and never stores it in the clear.
type Envelope struct {
	Ciphertext []byte
	Key        []byte
	IV         []byte
}

// Engine performs the core's stateless cryptographic operations:
// RSA-OAEP for direct messages and key wrapping, an AEAD for
// group/channel envelope encryption.
type Engine struct {
	suite Suite
}

// NewEngine returns an Engine using the given AEAD suite. An empty
// suite selects AES-256-GCM.
func NewEngine(suite Suite) (*Engine, error) {
	switch suite {
	case "":
		suite = SuiteAESGCM
	case SuiteAESGCM, SuiteXChaCha20:
	default:
		return nil, fmt.Errorf("unknown AEAD suite %q", suite)
	}
	return &Engine{suite: suite}, nil
}

// Suite reports the engine's AEAD suite.
func (e *Engine) Suite() Suite {
	return e.suite
}

// DirectSizeBound returns the maximum plaintext length EncryptDirect
// accepts for a public key: k - 2*hLen - 2 per OAEP (190 bytes at a
// 2048-bit modulus with SHA-256).
func DirectSizeBound(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// EncryptDirect encrypts plaintext for a single recipient with
// RSA-OAEP/SHA-256. Returns ErrMessageTooLong past the OAEP bound.
func (e *Engine) EncryptDirect(plaintext []byte, pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, errors.New("recipient public key is required")
	}
	if len(plaintext) > DirectSizeBound(pub) {
		return nil, ErrMessageTooLong
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt direct message: %w", err)
	}

	return ciphertext, nil
}

// DecryptDirect decrypts a direct ciphertext with the owner's private
// key. Key mismatch and corruption both surface as ErrDecryption.
func (e *Engine) DecryptDirect(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("owner private key is required")
	}
	if len(ciphertext) == 0 {
		return nil, ErrDecryption
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return plaintext, nil
}

// EncryptGroup encrypts plaintext under a fresh random 256-bit key and
// 96-bit IV with the engine's AEAD. The caller wraps the returned key
// for every current recipient.
func (e *Engine) EncryptGroup(plaintext []byte) (*Envelope, error) {
	key := make([]byte, envelopeKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate envelope key: %w", err)
	}

	aead, err := e.newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return &Envelope{
		Ciphertext: aead.Seal(nil, iv, plaintext, nil),
		Key:        key,
		IV:         iv,
	}, nil
}

// DecryptGroup decrypts an envelope ciphertext with its unwrapped key
// and IV. Same failure policy as DecryptDirect.
func (e *Engine) DecryptGroup(ciphertext, key, iv []byte) ([]byte, error) {
	if len(key) != envelopeKeySize {
		return nil, fmt.Errorf("%w: invalid envelope key length %d", ErrDecryption, len(key))
	}
	if len(ciphertext) == 0 {
		return nil, ErrDecryption
	}

	aead, err := e.newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce length %d", ErrDecryption, len(iv))
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return plaintext, nil
}

// WrapKey protects an envelope key for one recipient with RSA-OAEP.
func (e *Engine) WrapKey(key []byte, pub *rsa.PublicKey) ([]byte, error) {
	if len(key) != envelopeKeySize {
		return nil, fmt.Errorf("invalid envelope key length: got %d want %d", len(key), envelopeKeySize)
	}
	return e.EncryptDirect(key, pub)
}

// UnwrapKey recovers an envelope key wrapped for the owner.
func (e *Engine) UnwrapKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := e.DecryptDirect(wrapped, priv)
	if err != nil {
		return nil, err
	}
	if len(key) != envelopeKeySize {
		return nil, fmt.Errorf("%w: unwrapped key has length %d", ErrDecryption, len(key))
	}
	return key, nil
}

func (e *Engine) newAEAD(key []byte) (cipher.AEAD, error) {
	switch e.suite {
	case SuiteXChaCha20:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
		}
		return aead, nil
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create AES cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("create GCM: %w", err)
		}
		return aead, nil
	}
}
