package passphrase

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("VAULT_TEST_PASS", "from-env")
	s := NewSource("VAULT_TEST_PASS")
	s.prompt = func() (string, error) {
		t.Fatal("prompt should not run")
		return "", nil
	}
	got, err := s.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("get: %q %v", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("VAULT_TEST_PASS", "  ")
	if _, err := NewSource("VAULT_TEST_PASS").Get(); err == nil {
		t.Fatal("expected error for blank passphrase")
	}
}

func TestSourceReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pass")
	if err := os.WriteFile(path, []byte("secret\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("VAULT_TEST_FILE_PASS_FILE", path)
	got, err := NewSource("VAULT_TEST_FILE_PASS").Get()
	if err != nil || got != "secret" {
		t.Fatalf("get: %q %v", got, err)
	}
}

func TestSourceCachesPrompt(t *testing.T) {
	calls := 0
	s := NewSource("")
	s.prompt = func() (string, error) {
		calls++
		return "typed", nil
	}
	for i := 0; i < 3; i++ {
		if got, err := s.Get(); err != nil || got != "typed" {
			t.Fatalf("get: %q %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("prompt called %d times", calls)
	}
}

func TestSourcePromptError(t *testing.T) {
	s := NewSource("VAULT_TEST_UNSET_PASS")
	s.prompt = func() (string, error) { return "", errors.New("no tty") }
	if _, err := s.Get(); err == nil {
		t.Fatal("expected prompt error")
	}
}

func TestStatic(t *testing.T) {
	if got, _ := Static("x").Get(); got != "x" {
		t.Fatalf("static: %q", got)
	}
}
