package signer

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const keyFileExt = ".key"

// KeyStore keeps one signer per wallet address under a directory, as
// <dir>/<address>.key holding the hex seed. Keys are created on first use
// and never rotated.
type KeyStore struct {
	dir string

	mu      sync.Mutex
	signers map[string]*Signer
}

// NewKeyStore opens dir, creating it with owner-only permissions if needed.
func NewKeyStore(dir string) (*KeyStore, error) {
	if dir == "" {
		return nil, errors.Wrap(exception.ErrStorage, "empty key directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(exception.ErrStorage, "create key directory: %s", err.Error())
	}
	return &KeyStore{
		dir:     dir,
		signers: make(map[string]*Signer),
	}, nil
}

// GetOrCreate returns the signer of address, generating and persisting a
// new one if none exists yet.
func (ks *KeyStore) GetOrCreate(address string) (*Signer, error) {
	name, err := keyName(address)
	if err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if s, ok := ks.signers[name]; ok {
		return s, nil
	}

	s, err := ks.load(name)
	if err == nil {
		ks.signers[name] = s
		return s, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	s, err = GenerateSigner()
	if err != nil {
		return nil, err
	}
	if err := ks.store(name, s); err != nil {
		s.Zero()
		return nil, err
	}
	logs.Infof("keystore: created signer %s for %s", s.PublicKeyBase58(), name)
	ks.signers[name] = s
	return s, nil
}

// Import persists a caller-provided seed for address. Importing the seed
// already on disk is a no-op; a different one is refused.
func (ks *KeyStore) Import(address string, seed []byte) (*Signer, error) {
	name, err := keyName(address)
	if err != nil {
		return nil, err
	}
	s, err := NewSigner(seed)
	if err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	existing, ok := ks.signers[name]
	if !ok {
		existing, err = ks.load(name)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if existing != nil {
		if !bytes.Equal(existing.pub, s.pub) {
			s.Zero()
			return nil, errors.Wrapf(exception.ErrStorage, "a different key is already stored for %s", name)
		}
		s.Zero()
		ks.signers[name] = existing
		return existing, nil
	}

	if err := ks.store(name, s); err != nil {
		return nil, err
	}
	ks.signers[name] = s
	return s, nil
}

// PublicKey returns the base58 public key stored for address.
func (ks *KeyStore) PublicKey(address string) (string, error) {
	name, err := keyName(address)
	if err != nil {
		return "", err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if s, ok := ks.signers[name]; ok {
		return s.PublicKeyBase58(), nil
	}
	s, err := ks.load(name)
	if err != nil {
		return "", err
	}
	ks.signers[name] = s
	return s.PublicKeyBase58(), nil
}

// Close wipes every cached secret.
func (ks *KeyStore) Close() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for name, s := range ks.signers {
		s.Zero()
		delete(ks.signers, name)
	}
}

func (ks *KeyStore) path(name string) string {
	return filepath.Join(ks.dir, name+keyFileExt)
}

func (ks *KeyStore) load(name string) (*Signer, error) {
	raw, err := os.ReadFile(ks.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(os.ErrNotExist, "no key for %s", name)
		}
		return nil, errors.Wrapf(exception.ErrStorage, "read key of %s: %s", name, err.Error())
	}
	defer clear(raw)

	seed, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, errors.Wrapf(exception.ErrStorage, "key of %s is not hex encoded", name)
	}
	defer clear(seed)
	if len(seed) != SeedSize {
		return nil, errors.Wrapf(exception.ErrStorage, "key of %s has %d bytes, want %d", name, len(seed), SeedSize)
	}
	s, err := NewSigner(seed)
	if err != nil {
		return nil, errors.Wrap(exception.ErrStorage, err.Error())
	}
	return s, nil
}

func (ks *KeyStore) store(name string, s *Signer) error {
	seed := s.seed()
	defer clear(seed)
	data := make([]byte, hex.EncodedLen(len(seed))+1)
	defer clear(data)
	hex.Encode(data, seed)
	data[len(data)-1] = '\n'

	if err := writeFileAtomic(ks.path(name), data, 0o600); err != nil {
		return errors.Wrapf(exception.ErrStorage, "write key of %s: %s", name, err.Error())
	}
	return nil
}

// writeFileAtomic writes through a temp file, fsync and rename so a crash
// never leaves a truncated key behind.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// keyName maps an address to its file name. EVM addresses are case
// insensitive and get lowercased; base58 addresses keep their case.
func keyName(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.Wrap(exception.ErrInvalidArgument, "empty wallet address")
	}
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		address = strings.ToLower(address)
	}
	for _, r := range address {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return "", errors.Wrapf(exception.ErrInvalidArgument, "wallet address %q has invalid character %q", address, r)
		}
	}
	return address, nil
}
