package sample

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/sync/multierror"
	"github.com/pkg/errors"
)

// FromParent discovers samples as the immediate subdirectories of parent,
// in lexical order, and validates every one of them. It fails if parent is
// missing or contains no subdirectories at all.
func FromParent(parent string) (Set, error) {
	info, err := os.Stat(parent)
	if err != nil {
		return nil, errors.Wrapf(err, "sample parent directory %s", parent)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("sample parent %s is not a directory", parent)
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, errors.Wrapf(err, "sample parent directory %s", parent)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(parent, e.Name()))
		}
	}
	if len(dirs) == 0 {
		return nil, errors.Errorf("sample parent directory %s contains no sample directories", parent)
	}
	sort.Strings(dirs)
	return newValidatedSet(dirs)
}

// FromListFile reads sample directory paths from a file, one per line, and
// validates every one of them. Blank lines and surrounding whitespace are
// ignored; order is preserved. It fails if the file is missing or lists no
// directories.
func FromListFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sample directories file %s", path)
	}
	defer f.Close() // nolint: errcheck

	var dirs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		dirs = append(dirs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "sample directories file %s", path)
	}
	if len(dirs) == 0 {
		return nil, errors.Errorf("sample directories file %s is empty", path)
	}
	return newValidatedSet(dirs)
}

// newValidatedSet checks every candidate directory and reports all
// violations in one pass, so an operator sees every bad sample directory
// after a single run instead of discovering them one at a time.
func newValidatedSet(dirs []string) (Set, error) {
	errs := multierror.NewMultiError(len(dirs))
	set := make(Set, 0, len(dirs))
	seen := make(map[string]bool, len(dirs))
	// Base names must be unique too: they name the mirrored samples/<base>
	// subtrees and the per-sample log and metrics files.
	byName := make(map[string]string, len(dirs))
	for _, dir := range dirs {
		if seen[dir] {
			errs.Add(errors.Errorf("sample directory %s listed more than once", dir))
			continue
		}
		seen[dir] = true
		if prev, ok := byName[filepath.Base(dir)]; ok {
			errs.Add(errors.Errorf("sample directories %s and %s share the name %q", prev, dir, filepath.Base(dir)))
			continue
		}
		byName[filepath.Base(dir)] = dir
		if err := checkSampleDir(dir); err != nil {
			errs.Add(err)
			continue
		}
		set = append(set, Sample{Dir: dir})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

func checkSampleDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("sample directory %s does not exist", dir)
		}
		return errors.Wrapf(err, "sample directory %s", dir)
	}
	if !info.IsDir() {
		return errors.Errorf("sample path %s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "sample directory %s", dir)
	}
	if len(entries) == 0 {
		return errors.Errorf("sample directory %s is empty", dir)
	}
	for _, e := range entries {
		if !e.IsDir() && IsReadFile(e.Name()) {
			return nil
		}
	}
	return errors.Errorf("sample directory %s contains no read files (*.fastq or *.fq, optionally gzipped)", dir)
}
