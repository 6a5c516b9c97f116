package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandUserAndEnv expands $VAR, ${VAR} and a leading "~/" in p. The result is
// not made absolute.
func ExpandUserAndEnv(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return p, nil
}

// ReadFile expands p and reads it, wrapping errors with what it names.
func ReadFile(what, p string) ([]byte, error) {
	expanded, err := ExpandUserAndEnv(p)
	if err != nil {
		return nil, fmt.Errorf("%s: expand %q: %w", what, p, err)
	}
	if expanded == "" {
		return nil, fmt.Errorf("%s: empty path", what)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return data, nil
}
