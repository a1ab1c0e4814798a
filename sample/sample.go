// Package sample discovers, validates and orders the sample directories
// processed by one pipeline run.
//
// A sample is a directory holding the sequence-read files for one specimen.
// Two read-file naming families are accepted, fastq and fq, either plain or
// gzip-compressed. The set of samples for a run is ordered by descending
// aggregate read-file size so that under bounded parallelism the
// longest-running samples start first.
package sample

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Sample identifies one unit of per-sample pipeline work.
type Sample struct {
	// Dir is the sample directory as discovered from the input source.
	Dir string
	// Size is the aggregate byte size of the read files in the directory,
	// computed by SortBySize. Symbolic links count at their target size.
	Size int64
	// MirrorDir is the working copy of Dir inside the output tree, set only
	// when input mirroring is in effect.
	MirrorDir string
}

// Path returns the directory the pipeline stages should operate on: the
// mirrored copy when one exists, otherwise the original directory.
func (s Sample) Path() string {
	if s.MirrorDir != "" {
		return s.MirrorDir
	}
	return s.Dir
}

// Name returns the sample's identity, the base name of its directory.
func (s Sample) Name() string {
	return filepath.Base(s.Dir)
}

// Set is an ordered sequence of samples, unique by directory. Array-job
// backends index into the persisted form of a Set by 1-based position, so
// the order is part of the run's contract once established.
type Set []Sample

// Dirs returns the effective directory of every sample, in Set order.
func (set Set) Dirs() []string {
	dirs := make([]string, len(set))
	for i, s := range set {
		dirs[i] = s.Path()
	}
	return dirs
}

// TotalSize returns the aggregate read-file byte size across the whole set.
// Meaningful only after SortBySize has filled the sizes.
func (set Set) TotalSize() int64 {
	var n int64
	for _, s := range set {
		n += s.Size
	}
	return n
}

// IsReadFile reports whether base looks like a sequence-read file name:
// *.fastq or *.fq, optionally with a .gz suffix.
func IsReadFile(base string) bool {
	base = strings.TrimSuffix(base, ".gz")
	switch filepath.Ext(base) {
	case ".fastq", ".fq":
		return true
	}
	return false
}

// ReadFiles returns the read files directly inside dir, sorted by name.
// Subdirectories are not descended into.
func ReadFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "sample directory %s", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsReadFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}
