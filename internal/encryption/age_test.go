package encryption

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dupefind/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	cfg := config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "dupefind.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "dupefind.key"),
	}
	return NewAgeEncryptor(cfg)
}

func TestAgeEncryptor_IsConfigured(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if e.IsConfigured() {
		t.Error("IsConfigured() = true before Setup, want false")
	}

	if err := e.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()

	t.Run("private key is owner only", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Setup("test-passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		info, err := os.Stat(e.privateKeyPath)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("private key mode = %o, want 600", perm)
		}
	})

	t.Run("private key is sealed", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Setup("test-passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		data, err := os.ReadFile(e.privateKeyPath)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if bytes.Contains(data, []byte("AGE-SECRET-KEY-")) {
			t.Error("private key file holds the identity in plaintext")
		}
	})

	t.Run("existing keys are kept", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Setup("first"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		before, _ := os.ReadFile(e.publicKeyPath)

		if err := e.Setup("second"); !errors.Is(err, ErrKeysExist) {
			t.Fatalf("second Setup() error = %v, want ErrKeysExist", err)
		}
		after, _ := os.ReadFile(e.publicKeyPath)
		if !bytes.Equal(before, after) {
			t.Error("public key changed on refused Setup")
		}
		if _, err := e.Unlock("first"); err != nil {
			t.Errorf("Unlock(first) error = %v", err)
		}
	})

	t.Run("empty passphrase", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Setup(""); !errors.Is(err, ErrEmptyPassphrase) {
			t.Errorf("Setup(\"\") error = %v, want ErrEmptyPassphrase", err)
		}
		if e.IsConfigured() {
			t.Error("IsConfigured() = true after refused Setup")
		}
	})
}

func TestAgeEncryptor_DecryptWithOtherKey(t *testing.T) {
	t.Parallel()

	a := newTestAgeEncryptor(t)
	b := newTestAgeEncryptor(t)
	for _, e := range []*AgeEncryptor{a, b} {
		if err := e.Setup("pass"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
	}

	var encrypted bytes.Buffer
	if err := a.Encrypt(bytes.NewReader([]byte("secret")), &encrypted); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	dec, err := b.Unlock("pass")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var out bytes.Buffer
	if err := dec.Decrypt(&encrypted, &out); err == nil {
		t.Error("Decrypt() with a different identity should return error")
	}
}

func TestAgeEncryptor_Errors(t *testing.T) {
	t.Parallel()

	t.Run("encrypt before setup", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		var buf bytes.Buffer
		if err := e.Encrypt(bytes.NewReader([]byte("data")), &buf); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Encrypt() error = %v, want ErrNotExist", err)
		}
	})

	t.Run("unlock before setup", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if _, err := e.Unlock("passphrase"); err == nil {
			t.Error("Unlock() before Setup should return error")
		}
	})
}
