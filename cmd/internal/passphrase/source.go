package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
	promptOut    io.Writer = os.Stderr
)

// Source resolves a signer keystore passphrase once, from an environment
// variable when set, otherwise by prompting on the terminal.
type Source struct {
	envVar  string
	confirm bool

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source that checks envVar before prompting.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

// NewConfirmingSource is like NewSource but asks twice when prompting, for
// sealing new keystores.
func NewConfirmingSource(envVar string) *Source {
	s := NewSource(envVar)
	s.confirm = true
	return s
}

// Get returns the passphrase. Blank passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("signer passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("signer passphrase required and no terminal available")
	}

	first, err := prompt(fd, "Enter signer keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("signer passphrase cannot be empty")
	}
	if s.confirm {
		second, err := prompt(fd, "Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if second != first {
			return "", errors.New("passphrases do not match")
		}
	}
	return first, nil
}

func prompt(fd int, label string) (string, error) {
	fmt.Fprint(promptOut, label)
	raw, err := readPassword(fd)
	fmt.Fprintln(promptOut)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
