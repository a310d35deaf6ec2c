// Package integrity verifies a bundle directory against its manifest and
// enforces the manifest as the authoritative file inventory after deploys.
package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cubelabs/stormsync/internal/bundle"
)

// ErrVerificationFailed reports a hash mismatch between a manifest descriptor
// and the on-disk file it references.
var ErrVerificationFailed = errors.New("bundle verification failed")

// Verifier checks bundle directories against their manifests. The zero value
// is usable; a custom logger may be injected for tests.
type Verifier struct {
	log *slog.Logger
}

// NewVerifier returns a Verifier logging through the given logger.
// A nil logger falls back to slog.Default.
func NewVerifier(log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{log: log}
}

func (v *Verifier) logger() *slog.Logger {
	if v.log == nil {
		return slog.Default()
	}
	return v.log
}

// Verify hashes every manifest descriptor in dir against its declared digest.
// A descriptor whose file does not exist on disk is tolerated; a file that
// exists with the wrong hash condemns the whole bundle. On any mismatch, or
// when the manifest itself is unreadable or malformed, the entire directory
// is deleted and false is returned. Bundles are atomic: partial acceptance
// would mix incompatible versions of interdependent content.
func (v *Verifier) Verify(dir string) (bool, error) {
	manifest, err := bundle.ReadManifest(dir)
	if err != nil {
		v.logger().Warn("discarding bundle with unreadable manifest",
			"component", "integrity",
			"action", "verify_failed",
			"path", dir,
			"error", err,
		)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return false, fmt.Errorf("delete corrupt bundle: %w", rmErr)
		}
		return false, nil
	}

	for _, section := range bundle.Sections {
		for _, desc := range manifest.Section(section) {
			path := filepath.Join(dir, section, desc.Src)
			actual, err := fileHash(path)
			if err != nil {
				if os.IsNotExist(err) {
					// Deltas only carry changed files; absent ones are fine.
					continue
				}
				return false, fmt.Errorf("hash %s: %w", path, err)
			}

			if actual != desc.Hash {
				v.logger().Warn("file has the wrong hash, discarding bundle",
					"component", "integrity",
					"action", "verify_failed",
					"section", section,
					"file", desc.Src,
					"expected", desc.Hash,
					"actual", actual,
				)
				if rmErr := os.RemoveAll(dir); rmErr != nil {
					return false, fmt.Errorf("delete corrupt bundle: %w", rmErr)
				}
				return false, nil
			}
		}
	}

	return true, nil
}

// Enforce deletes every file present in dir's section directories that the
// manifest does not declare. It runs after a deploy merged new content over
// the live directory and cleans up files a previous version left behind.
// Individual deletion failures are logged and skipped; orphan cleanup is
// best-effort, not atomicity-critical.
func (v *Verifier) Enforce(dir string) error {
	manifest, err := bundle.ReadManifest(dir)
	if err != nil {
		return fmt.Errorf("enforce integrity: %w", err)
	}

	var removed int
	for _, section := range bundle.Sections {
		sectionDir := filepath.Join(dir, section)
		entries, err := os.ReadDir(sectionDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("list %s: %w", sectionDir, err)
		}

		declared := make(map[string]struct{})
		for _, desc := range manifest.Section(section) {
			declared[desc.Src] = struct{}{}
		}

		for _, entry := range entries {
			if _, ok := declared[entry.Name()]; ok {
				continue
			}
			orphan := filepath.Join(sectionDir, entry.Name())
			if err := os.RemoveAll(orphan); err != nil {
				v.logger().Warn("orphaned file was not deleted",
					"component", "integrity",
					"action", "orphan_delete_failed",
					"file", orphan,
					"error", err,
				)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		v.logger().Info("removed orphaned content",
			"component", "integrity",
			"action", "orphans_removed",
			"path", dir,
			"count", removed,
		)
	}
	return nil
}

// fileHash returns the hex MD5 digest of the file at path, matching the
// digest the server records in manifest descriptors.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
