package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// FileSuffix is appended to the environment variable name to locate a file
// holding the passphrase, e.g. TIPJAR_KEYSTORE_PASSPHRASE_FILE.
const FileSuffix = "_FILE"

// Option customises a Source.
type Option func(*Source)

// WithConfirm makes interactive prompts ask twice and require both entries to
// match. Use it when the passphrase protects a newly created keystore.
func WithConfirm() Option {
	return func(s *Source) { s.confirm = true }
}

// Source lazily resolves a keystore passphrase. It checks the environment
// variable, then a file named by <envVar>_FILE, then prompts on the terminal.
// The result is cached after the first call.
type Source struct {
	envVar  string
	confirm bool

	isTerminal func() bool
	readSecret func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source keyed on envVar.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar:     strings.TrimSpace(envVar),
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		readSecret: promptTerminal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached passphrase or resolves it on first use.
// Whitespace-only passphrases are rejected.
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
		if path, ok := os.LookupEnv(s.envVar + FileSuffix); ok && strings.TrimSpace(path) != "" {
			raw, err := os.ReadFile(strings.TrimSpace(path))
			if err != nil {
				return "", fmt.Errorf("read %s%s: %w", s.envVar, FileSuffix, err)
			}
			value := strings.TrimRight(string(raw), "\r\n")
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("passphrase file %s is empty", path)
			}
			return value, nil
		}
	}

	if !s.isTerminal() {
		if s.envVar != "" {
			return "", fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("keystore passphrase required and no terminal available")
	}

	value, err := s.readSecret("Enter keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	if s.confirm {
		again, err := s.readSecret("Repeat keystore passphrase: ")
		if err != nil {
			return "", err
		}
		if again != value {
			return "", errors.New("passphrases do not match")
		}
	}
	return value, nil
}

func promptTerminal(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(raw), nil
}
