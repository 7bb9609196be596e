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

// Source resolves the vault keystore passphrase once and caches the result.
// Lookup order is the environment variable, then a file named by
// "<envVar>_FILE", then an interactive prompt.
type Source struct {
	envVar string
	prompt func() (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source rooted at envVar.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), prompt: promptTerminal}
}

// Static returns a Source that always yields value.
func Static(value string) *Source {
	return &Source{prompt: func() (string, error) { return value, nil }}
}

// Get returns the cached passphrase or resolves it on first use.
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
		if path, ok := os.LookupEnv(s.envVar + "_FILE"); ok {
			return readFile(path)
		}
	}
	if s.prompt == nil {
		return "", errors.New("vault keystore passphrase required")
	}
	value, err := s.prompt()
	if err != nil {
		if s.envVar != "" {
			return "", fmt.Errorf("%w; set %s or run interactively", err, s.envVar)
		}
		return "", err
	}
	return value, nil
}

func readFile(path string) (string, error) {
	f, err := os.Open(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("open passphrase file: %w", err)
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, 4096))
	if err != nil {
		return "", fmt.Errorf("read passphrase file: %w", err)
	}
	value := strings.TrimRight(string(raw), "\r\n")
	if strings.TrimSpace(value) == "" {
		return "", errors.New("passphrase file is empty")
	}
	return value, nil
}

func promptTerminal() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("vault keystore passphrase required and no terminal available")
	}

	fmt.Fprint(os.Stderr, "Enter vault keystore passphrase: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}

	passphrase := string(bytes)
	if strings.TrimSpace(passphrase) == "" {
		return "", errors.New("vault keystore passphrase cannot be empty")
	}
	return passphrase, nil
}
