package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotLoggedIn means the CLI's own credential file is missing.
var ErrNotLoggedIn = errors.New("agent CLI is not authenticated")

// CheckLogin verifies that the CLI has been logged in on this host.
// Credentials must come from the CLI's login, not from an inherited API key.
func CheckLogin(home, command string) error {
	path := filepath.Join(home, ".claude.json")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s not found, run '%s login' first", ErrNotLoggedIn, path, filepath.Base(command))
		}
		return fmt.Errorf("check login: %w", err)
	}
	return nil
}

// PresentVars returns the names from vars that are set in the current environment.
func PresentVars(vars []string) []string {
	var present []string
	for _, v := range vars {
		if _, ok := os.LookupEnv(v); ok {
			present = append(present, v)
		}
	}
	return present
}
