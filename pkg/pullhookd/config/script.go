package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExecutableDir returns the directory holding the running binary, with symlinks resolved.
func ExecutableDir() (string, error) {
	executable, err := os.Executable()
	if err != nil {
		return "", err
	}
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return "", err
	}
	return filepath.Dir(executable), nil
}

// ResolveScript returns the absolute path of the sync script. A relative path is looked
// up next to the binary first, then in the working directory.
func ResolveScript(script, executableDir string) (string, error) {
	if len(script) == 0 {
		return "", fmt.Errorf("invalid config: %s is empty", SyncScript)
	}

	candidates := []string{script}
	if !filepath.IsAbs(script) {
		candidates = nil
		if len(executableDir) > 0 {
			candidates = append(candidates, filepath.Join(executableDir, script))
		}
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		candidates = append(candidates, filepath.Join(wd, script))
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("invalid config: %s %q not found in %v", SyncScript, script, candidates)
}
