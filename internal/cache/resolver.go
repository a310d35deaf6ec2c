// Package cache resolves abstract content references into concrete bytes.
// Storm content links use the cache:// scheme; the resolver prefers the live
// synced directory and falls back to the assets bundled with the app, so a
// fresh install can render before its first sync completes.
package cache

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
)

// Scheme handled by the Resolver.
const Scheme = "cache"

var (
	ErrUnsupportedScheme = errors.New("unsupported content scheme")
	ErrNotFound          = errors.New("content not found")
)

// Resolver maps cache:// references to files under the live content
// directory, falling back to a read-only bundled assets directory.
type Resolver struct {
	storagePath string
	assetsPath  string
}

// NewResolver returns a Resolver over the live storage directory and an
// optional bundled-assets fallback directory (empty disables the fallback).
func NewResolver(storagePath, assetsPath string) *Resolver {
	return &Resolver{storagePath: storagePath, assetsPath: assetsPath}
}

// Resolve translates a cache:// reference into the path of an existing file:
// the live copy when present, otherwise the bundled asset. References with
// any other scheme are rejected with ErrUnsupportedScheme.
func (r *Resolver) Resolve(ref string) (string, error) {
	rel, err := r.relPath(ref)
	if err != nil {
		return "", err
	}

	live := filepath.Join(r.storagePath, filepath.FromSlash(rel))
	if fileExists(live) {
		return live, nil
	}

	if r.assetsPath != "" {
		asset := filepath.Join(r.assetsPath, filepath.FromSlash(rel))
		if fileExists(asset) {
			return asset, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// Open returns a reader over the resolved content.
func (r *Resolver) Open(ref string) (io.ReadCloser, error) {
	p, err := r.Resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	return f, nil
}

func (r *Resolver) relPath(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse content reference %q: %w", ref, err)
	}
	if u.Scheme != Scheme {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	// cache://pages/home.json parses with host "pages" and path "/home.json".
	rel := path.Join(u.Host, u.Path)
	cleaned := path.Clean("/" + rel)
	return cleaned[1:], nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
