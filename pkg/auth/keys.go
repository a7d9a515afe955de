// Package auth implements the pass/fail gate in front of the
// dispatcher: API keys for remote submitters and a per-process
// session token for the worker-facing endpoints.
package auth

import (
	"bufio"
	"strings"
	"sync"

	"github.com/runbeam/relay/pkg/log"
	"github.com/spf13/afero"
)

// Holds the API keys accepted on the submission endpoint.
// Keys are read from a plain text file, one per line.
// Lines starting with '#' and blank lines are ignored.
type KeyStore struct {
	mu   sync.RWMutex
	fs   afero.Fs
	path string
	keys map[string]struct{}
}

func NewKeyStore(fs afero.Fs, path string) *KeyStore {
	return &KeyStore{
		fs:   fs,
		path: path,
		keys: map[string]struct{}{},
	}
}

func (s *KeyStore) Load() error {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return err
	}

	if !exists {
		log.Warnf("API key file not found: %s", s.path)
		log.Warn("Remote submitters will not be able to access the submission endpoint")
		file, err := s.fs.Create(s.path)
		if err != nil {
			return err
		}
		return file.Close()
	}

	file, err := s.fs.Open(s.path)
	if err != nil {
		return err
	}
	defer file.Close()

	keys := map[string]struct{}{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()

	if len(keys) > 0 {
		log.Infof("Loaded %d API key(s) from %s", len(keys), s.path)
	} else {
		log.Warnf("No valid API keys found in %s", s.path)
	}

	return nil
}

func (s *KeyStore) IsValid(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

func (s *KeyStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
