package encryption

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"dupefind/internal/config"
	"dupefind/internal/dupe"
)

// ErrUnknownType is returned for an encryption type with no implementation.
var ErrUnknownType = errors.New("unknown encryption type")

// DefaultType is used when the config leaves the type empty.
const DefaultType = "age"

var constructors = map[string]func(config.EncryptionConfig) (dupe.Encryptor, error){
	"age":  newAgeFromConfig,
	"test": func(config.EncryptionConfig) (dupe.Encryptor, error) { return NewTestEncryptor(), nil },
}

// Types returns the supported encryption types in name order.
func Types() []string {
	return slices.Sorted(maps.Keys(constructors))
}

// NewEncryptorFromConfig creates the Encryptor named by cfg.Type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (dupe.Encryptor, error) {
	typ := cfg.Type
	if typ == "" {
		typ = DefaultType
	}
	newEncryptor, ok := constructors[typ]
	if !ok {
		return nil, fmt.Errorf("%w %q, want one of %s", ErrUnknownType, cfg.Type, strings.Join(Types(), ", "))
	}
	return newEncryptor(cfg)
}

func newAgeFromConfig(cfg config.EncryptionConfig) (dupe.Encryptor, error) {
	if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
		return nil, fmt.Errorf("age encryption needs public_key_path and private_key_path")
	}
	return NewAgeEncryptor(cfg), nil
}
