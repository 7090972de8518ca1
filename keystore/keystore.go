// Package keystore manages per-user asymmetric key material. Each user
// gets exactly one RSA key pair, generated on first use of encrypted
// messaging and immutable until account deletion.
package keystore

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"marketchat/crypto"
	"marketchat/storage"
)

var (
	// ErrKeyGeneration indicates the cryptographic provider failed to
	// produce a key pair.
	ErrKeyGeneration = errors.New("keystore: key generation failed")
	// ErrKeyNotFound indicates the owner never generated a key pair.
	ErrKeyNotFound = errors.New("keystore: key pair not found")
	// ErrAccessDenied indicates a private key request from outside the
	// owner's trust boundary.
	ErrAccessDenied = errors.New("keystore: private key access denied")
)

// DefaultKeygenWorkers bounds concurrent RSA key generation so the
// CPU-bound work cannot head-of-line-block I/O goroutines.
const DefaultKeygenWorkers = 2

// Persistence is the narrow storage surface the key store needs.
// *storage.Store satisfies it.
type Persistence interface {
	InsertUserKey(key storage.UserKey) error
	GetUserKey(ownerID string) (*storage.UserKey, error)
	DeleteUserKey(ownerID string) error
	InsertSecurityEvent(event storage.SecurityEvent) error
}

// KeyPair is one owner's key material. The private half is only present
// when the pair is held inside the service trust boundary.
type KeyPair struct {
	OwnerID string
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// KeyStore generates, persists, and retrieves per-user key pairs.
type KeyStore struct {
	store      Persistence
	bits       int
	keygenGate chan struct{}
}

// Options configures a KeyStore.
type Options struct {
	// ModulusBits is the RSA modulus size; values below the minimum are
	// raised to it.
	ModulusBits int
	// KeygenWorkers bounds concurrent key generation.
	KeygenWorkers int
}

func (o Options) withDefaults() Options {
	out := o
	if out.ModulusBits < crypto.MinModulusBits {
		out.ModulusBits = crypto.MinModulusBits
	}
	if out.KeygenWorkers <= 0 {
		out.KeygenWorkers = DefaultKeygenWorkers
	}
	return out
}

// New creates a KeyStore over the given persistence.
func New(store Persistence, opts Options) *KeyStore {
	opts = opts.withDefaults()
	return &KeyStore{
		store:      store,
		bits:       opts.ModulusBits,
		keygenGate: make(chan struct{}, opts.KeygenWorkers),
	}
}

// EnsureKeyPair creates a key pair for the owner if and only if none
// exists; otherwise the existing pair is returned. Idempotent under
// concurrent calls for the same owner: the first stored pair wins.
func (k *KeyStore) EnsureKeyPair(ctx context.Context, ownerID string) (*KeyPair, error) {
	if ownerID == "" {
		return nil, errors.New("owner ID is required")
	}

	existing, err := k.store.GetUserKey(ownerID)
	if err == nil {
		return decodeStored(existing)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("look up key pair: %w", err)
	}

	select {
	case k.keygenGate <- struct{}{}:
		defer func() { <-k.keygenGate }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	private, err := crypto.GenerateRSAKeyPair(k.bits)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"owner": ownerID,
			"error": err,
		}).Error("RSA key generation failed")
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	privatePEM := crypto.ObfuscatePEM(crypto.EncodePrivateKeyPEM(private))
	err = k.store.InsertUserKey(storage.UserKey{
		OwnerID:       ownerID,
		PublicKeyPEM:  crypto.EncodePublicKeyPEM(&private.PublicKey),
		PrivateKeyPEM: &privatePEM,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		// Lost the race; the stored pair is canonical.
		winner, err := k.store.GetUserKey(ownerID)
		if err != nil {
			return nil, fmt.Errorf("re-read winning key pair: %w", err)
		}
		return decodeStored(winner)
	}
	if err != nil {
		return nil, fmt.Errorf("persist key pair: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"owner":       ownerID,
		"fingerprint": crypto.KeyFingerprint(&private.PublicKey),
	}).Info("generated key pair")

	return &KeyPair{
		OwnerID: ownerID,
		Public:  &private.PublicKey,
		Private: private,
	}, nil
}

// PublicKey returns the owner's public key. ErrKeyNotFound when the
// owner never generated a pair.
func (k *KeyStore) PublicKey(ownerID string) (*rsa.PublicKey, error) {
	stored, err := k.store.GetUserKey(ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: owner %q", ErrKeyNotFound, ownerID)
		}
		return nil, fmt.Errorf("look up public key: %w", err)
	}

	pub, err := crypto.DecodePublicKeyPEM(stored.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("decode stored public key: %w", err)
	}

	return pub, nil
}

// PrivateKey returns the owner's private key. The trust boundary is
// enforced against callerID: only the owner may retrieve it.
func (k *KeyStore) PrivateKey(callerID, ownerID string) (*rsa.PrivateKey, error) {
	if callerID != ownerID {
		caller := callerID
		_ = k.store.InsertSecurityEvent(storage.SecurityEvent{
			EventType: storage.SecurityEventAccessDenied,
			UserID:    &caller,
			Details:   fmt.Sprintf("private key request for owner %s", ownerID),
			Severity:  storage.SecuritySeverityWarning,
		})
		logrus.WithFields(logrus.Fields{
			"caller": callerID,
			"owner":  ownerID,
		}).Warn("private key access denied")
		return nil, fmt.Errorf("%w: caller %q is not owner %q", ErrAccessDenied, callerID, ownerID)
	}

	stored, err := k.store.GetUserKey(ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: owner %q", ErrKeyNotFound, ownerID)
		}
		return nil, fmt.Errorf("look up private key: %w", err)
	}
	if stored.PrivateKeyPEM == nil {
		return nil, fmt.Errorf("%w: owner %q holds no private half here", ErrKeyNotFound, ownerID)
	}

	raw, err := crypto.DeobfuscatePEM(*stored.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("decode stored private key: %w", err)
	}
	private, err := crypto.DecodePrivateKeyPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse stored private key: %w", err)
	}

	return private, nil
}

// DeleteKeyPair destroys an owner's key material. Account deletion only.
func (k *KeyStore) DeleteKeyPair(ownerID string) error {
	if err := k.store.DeleteUserKey(ownerID); err != nil {
		return fmt.Errorf("delete key pair: %w", err)
	}
	return nil
}

func decodeStored(stored *storage.UserKey) (*KeyPair, error) {
	pub, err := crypto.DecodePublicKeyPEM(stored.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("decode stored public key: %w", err)
	}

	pair := &KeyPair{OwnerID: stored.OwnerID, Public: pub}
	if stored.PrivateKeyPEM != nil {
		raw, err := crypto.DeobfuscatePEM(*stored.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("decode stored private key: %w", err)
		}
		private, err := crypto.DecodePrivateKeyPEM(raw)
		if err != nil {
			return nil, fmt.Errorf("parse stored private key: %w", err)
		}
		pair.Private = private
	}

	return pair, nil
}
