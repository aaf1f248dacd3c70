package app

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// EnvPassphrase, when set, supplies the key passphrase without a prompt.
const EnvPassphrase = "DUPEFIND_PASSPHRASE"

// PassphraseFunc obtains a passphrase after showing prompt to the user.
type PassphraseFunc func(prompt string) (string, error)

// TerminalPassphrase reads a passphrase from the terminal without echo.
func TerminalPassphrase(prompt string) (string, error) {
	if p := os.Getenv(EnvPassphrase); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required but stdin is not a terminal (set %s)", EnvPassphrase)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// NewPassphrase asks for a passphrase twice and fails unless both match.
func NewPassphrase(read PassphraseFunc) (string, error) {
	first, err := read("New passphrase: ")
	if err != nil {
		return "", err
	}
	if os.Getenv(EnvPassphrase) != "" {
		return first, nil
	}
	second, err := read("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}
