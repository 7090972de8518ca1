package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
)

const (
	rsaPrivatePEMType = "RSA PRIVATE KEY"
	rsaPublicPEMType  = "RSA PUBLIC KEY"

	// MinModulusBits is the smallest accepted RSA modulus size.
	MinModulusBits = 2048
)

// GenerateRSAKeyPair creates a new RSA private key of at least
// MinModulusBits. Key generation is CPU-bound; callers gate concurrency.
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits < MinModulusBits {
		bits = MinModulusBits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA keypair: %w", err)
	}

	return key, nil
}

// EncodePrivateKeyPEM serializes an RSA private key to PEM.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) string {
	block := &pem.Block{
		Type:  rsaPrivatePEMType,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return string(pem.EncodeToMemory(block))
}

// DecodePrivateKeyPEM parses an RSA private key from PEM.
func DecodePrivateKeyPEM(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("decode RSA private PEM: no PEM block")
	}
	if block.Type != rsaPrivatePEMType {
		return nil, fmt.Errorf("decode RSA private PEM: unexpected type %q", block.Type)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse RSA private key: %w", err)
	}

	return key, nil
}

// EncodePublicKeyPEM serializes an RSA public key to PEM.
func EncodePublicKeyPEM(key *rsa.PublicKey) string {
	block := &pem.Block{
		Type:  rsaPublicPEMType,
		Bytes: x509.MarshalPKCS1PublicKey(key),
	}
	return string(pem.EncodeToMemory(block))
}

// DecodePublicKeyPEM parses an RSA public key from PEM.
func DecodePublicKeyPEM(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("decode RSA public PEM: no PEM block")
	}
	if block.Type != rsaPublicPEMType {
		return nil, fmt.Errorf("decode RSA public PEM: unexpected type %q", block.Type)
	}

	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse RSA public key: %w", err)
	}

	return key, nil
}

// ObfuscatePEM applies the reversible storage encoding for private key
// material held inside the service trust boundary. This is an encoding,
// not encryption; it only keeps key bytes out of casual plaintext reads.
func ObfuscatePEM(raw string) string {
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DeobfuscatePEM reverses ObfuscatePEM.
func DeobfuscatePEM(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode obfuscated key material: %w", err)
	}
	return string(raw), nil
}

// KeyFingerprint returns the truncated SHA-256 hex fingerprint of a public key.
func KeyFingerprint(key *rsa.PublicKey) string {
	sum := sha256.Sum256(x509.MarshalPKCS1PublicKey(key))
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
