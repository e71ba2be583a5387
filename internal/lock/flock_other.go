//go:build !unix

package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// tryFile falls back to an exclusive-create marker file. A crashed process
// leaves the marker behind and it has to be removed by hand.
func tryFile(dir, name string) (Release, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { os.Remove(path) }, nil
}
