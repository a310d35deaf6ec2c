// Package archive extracts gzip-compressed tar bundles into a directory.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrUnsafePath reports a tar entry that would escape the extraction root.
var ErrUnsafePath = errors.New("archive entry escapes extraction root")

const copyBuffer = 32 * 1024

// Extract unpacks the tar.gz archive at archivePath into destDir, creating
// parent directories as needed. progress, if non-nil, is called with the
// cumulative number of extracted bytes after each file; it never receives a
// total because the uncompressed size is unknown up front.
func Extract(archivePath, destDir string, progress func(extracted int64)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var extracted int64
	buf := make([]byte, copyBuffer)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if name == "" {
			continue
		}

		target, err := safeJoin(destDir, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent for %s: %w", target, err)
			}
			n, err := writeFile(target, tr, buf)
			if err != nil {
				return err
			}
			extracted += n
			if progress != nil {
				progress(extracted)
			}
		default:
			// Symlinks, devices etc. have no business in a content bundle.
			continue
		}
	}
}

func writeFile(target string, r io.Reader, buf []byte) (int64, error) {
	out, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	n, err := io.CopyBuffer(out, r, buf)
	if err != nil {
		out.Close()
		return n, fmt.Errorf("extract %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", target, err)
	}
	return n, nil
}

// safeJoin joins name onto root, rejecting entries that resolve outside it.
func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}
