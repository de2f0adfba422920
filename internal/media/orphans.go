package media

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

type CleanupReport struct {
	Orphans []string
	Kept    int
	Deleted int
}

// FindOrphans walks the input dir and returns files not in referenced.
// Per-job working directories are skipped; they belong to running jobs.
func (s *Store) FindOrphans(referenced []string) (CleanupReport, error) {
	var rep CleanupReport
	dir := s.InputDir()

	refs := make(map[string]struct{}, len(referenced))
	for _, p := range referenced {
		refs[normPath(p)] = struct{}{}
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != dir && isWorkDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if _, ok := refs[normPath(path)]; ok {
			rep.Kept++
			return nil
		}
		rep.Orphans = append(rep.Orphans, path)
		return nil
	})
	return rep, err
}

// Cleanup deletes orphans and then prunes empty directories. dryRun only
// reports.
func (s *Store) Cleanup(referenced []string, dryRun bool) (CleanupReport, error) {
	rep, err := s.FindOrphans(referenced)
	if err != nil || dryRun {
		return rep, err
	}
	for _, p := range rep.Orphans {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return rep, err
		}
		rep.Deleted++
	}
	s.pruneEmptyDirs()
	return rep, nil
}

func (s *Store) pruneEmptyDirs() {
	dir := s.InputDir()
	var dirs []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != dir {
			if isWorkDir(d.Name()) {
				return fs.SkipDir
			}
			dirs = append(dirs, path)
		}
		return nil
	})
	// deepest first
	slices.Reverse(dirs)
	for _, d := range dirs {
		_ = os.Remove(d) // fails when not empty
	}
}

func isWorkDir(name string) bool {
	return strings.HasPrefix(name, "job_") && strings.HasSuffix(name, "_chunks")
}

func normPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
