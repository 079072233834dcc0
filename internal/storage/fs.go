package storage

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FSStore serves question images from a local directory. URLs are plain
// paths under the public prefix; nothing is actually signed in dev.
type FSStore struct {
	base   string
	public string
}

func NewFSStore(base, publicPrefix string) (*FSStore, error) {
	if base == "" {
		base = "./data"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base, public: strings.TrimSuffix(publicPrefix, "/")}, nil
}

func (s *FSStore) SignedURL(_ context.Context, key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(s.base, filepath.FromSlash(k))); err != nil {
		return "", err
	}
	return s.public + "/" + k, nil
}

// Handler serves the store's files; mount it under the public prefix.
func (s *FSStore) Handler() http.Handler {
	return http.StripPrefix(s.public, http.FileServer(http.Dir(s.base)))
}
