// Package media stores uploaded input artifacts under MEDIA_ROOT/input and
// finds files no job references anymore.
package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

const InputDir = "input"

type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) InputDir() string { return filepath.Join(s.Root, InputDir) }

// Save writes r to input/{name}_{suffix}{ext} and returns the stored path.
// The suffix keeps repeated uploads of the same file apart.
func (s *Store) Save(r io.Reader, originalName string) (string, error) {
	dir := s.InputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name, ext := splitName(originalName)
	path := filepath.Join(dir, fmt.Sprintf("%s_%s%s", name, uniqueSuffix(), ext))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Remove deletes a stored input. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// maxNameLen leaves room for the suffix and extension under the usual
// 255-byte file name limit.
const maxNameLen = 150

func splitName(original string) (name, ext string) {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	ext = strings.ToLower(filepath.Ext(base))
	name = strings.TrimSuffix(base, filepath.Ext(base))
	name = unsafeChars.ReplaceAllString(name, "_")
	if len(name) > maxNameLen {
		n := maxNameLen
		for n > 0 && !utf8.RuneStart(name[n]) {
			n--
		}
		name = name[:n]
	}
	name = strings.Trim(name, "._")
	if name == "" {
		name = "audio"
	}
	if len(ext) > 10 || unsafeChars.MatchString(ext) {
		ext = ""
	}
	return name, ext
}

// uniqueSuffix is 10 lowercase chars from the random part of a ULID.
func uniqueSuffix() string {
	id := ulid.Make().String()
	return strings.ToLower(id[len(id)-10:])
}

var suffixRe = regexp.MustCompile(`_[A-Za-z0-9]{6,10}$`)

// DisplayFilename strips the generated uniqueness suffix. original wins
// over the stored path when set.
func DisplayFilename(original, storedPath string) string {
	base := original
	if base == "" && storedPath != "" {
		base = filepath.Base(storedPath)
	}
	if base == "" {
		return ""
	}
	ext := filepath.Ext(base)
	name := suffixRe.ReplaceAllString(strings.TrimSuffix(base, ext), "")
	return name + ext
}
