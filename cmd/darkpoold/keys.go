package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/0x5487/darkpool/mpc"
)

const (
	computeKeyFile = "compute.key"
	signKeyFile    = "sign.key"
)

// generateKeys writes a fresh compute key pair and signing key into dir, keeping existing ones.
func generateKeys(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	if err := writeKeyIfMissing(filepath.Join(dir, computeKeyFile), func() ([]byte, error) {
		kp, err := mpc.GenerateKeyPair(rand.Reader)
		if err != nil {
			return nil, err
		}
		return kp.Private[:], nil
	}); err != nil {
		return err
	}

	return writeKeyIfMissing(filepath.Join(dir, signKeyFile), func() ([]byte, error) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv.Seed(), err
	})
}

func writeKeyIfMissing(path string, gen func() ([]byte, error)) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	key, err := gen()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600)
}

// loadKeys reads the keys written by generateKeys.
func loadKeys(dir string) (mpc.KeyPair, ed25519.PrivateKey, error) {
	raw, err := readKey(filepath.Join(dir, computeKeyFile), mpc.KeySize)
	if err != nil {
		return mpc.KeyPair{}, nil, err
	}
	var priv mpc.PrivateKey
	copy(priv[:], raw)
	compute, err := mpc.NewKeyPair(priv)
	if err != nil {
		return mpc.KeyPair{}, nil, err
	}

	seed, err := readKey(filepath.Join(dir, signKeyFile), ed25519.SeedSize)
	if err != nil {
		return mpc.KeyPair{}, nil, err
	}
	return compute, ed25519.NewKeyFromSeed(seed), nil
}

func readKey(path string, size int) ([]byte, error) {
	bz, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s not found, run init first", path)
	}
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(bz)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(key) != size {
		return nil, fmt.Errorf("%s: key is %d bytes, want %d", path, len(key), size)
	}
	return key, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
