package directory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// File is a directory backed by a users file: one user per line, the first
// whitespace-separated field being the user (either "user" or
// "user@domain"). Blank lines and lines starting with '#' are ignored.
type File struct {
	path string

	mu    sync.RWMutex
	users set
}

// OpenFile loads the users file at path.
func OpenFile(path string) (*File, error) {
	f := &File{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the users file. On error the previous contents stay in
// effect.
func (f *File) Reload() error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("directory: open users file: %w", err)
	}
	defer file.Close()

	users := newSet()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		users.add(strings.Fields(line)[0])
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("directory: read users file: %w", err)
	}

	f.mu.Lock()
	f.users = users
	f.mu.Unlock()
	return nil
}

// IsValidUser reports whether address is listed in the users file.
func (f *File) IsValidUser(_ context.Context, address string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.users.contains(address)
}

// Len returns the number of users loaded.
func (f *File) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.users.len()
}
