// Package mirror materializes working copies of the run inputs inside the
// work directory, so the pipeline never writes next to the originals. The
// reference lands in reference/ and each sample's read files in
// samples/<name>/, linked or copied according to the selected mode.
package mirror

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
	"github.com/rlpires/snp-pipeline/sample"
)

// Mode selects the mirroring strategy. The zero value leaves inputs in
// place.
type Mode int

const (
	// None disables mirroring.
	None Mode = iota
	// Soft mirrors through absolute symbolic links.
	Soft
	// Hard mirrors through hard links; inputs and the work directory must
	// live on one filesystem.
	Hard
	// Copy duplicates the input bytes, preserving permissions.
	Copy
)

func (m Mode) String() string {
	switch m {
	case Soft:
		return "soft"
	case Hard:
		return "hard"
	case Copy:
		return "copy"
	}
	return "none"
}

// ParseMode maps a mode name to its Mode. The empty string means None.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "none":
		return None, nil
	case "soft":
		return Soft, nil
	case "hard":
		return Hard, nil
	case "copy":
		return Copy, nil
	}
	return None, errors.Errorf("unknown mirror mode %q (want none, soft, hard or copy)", s)
}

// Reference mirrors the reference file into root/reference/ and returns the
// mirrored path.
func Reference(root, ref string, mode Mode) (string, error) {
	dir := filepath.Join(root, "reference")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "mirror reference")
	}
	dst := filepath.Join(dir, filepath.Base(ref))
	if err := mirrorFile(ref, dst, mode); err != nil {
		return "", errors.Wrapf(err, "mirror reference %s", ref)
	}
	return dst, nil
}

// Samples mirrors every sample's read files into root/samples/<name>/ and
// returns a set whose effective paths point at the mirrors. Samples are
// mirrored in parallel; the first failure aborts the whole operation.
func Samples(root string, set sample.Set, mode Mode) (sample.Set, error) {
	log.Printf("mirroring %d sample(s) into %s (%s)", len(set), filepath.Join(root, "samples"), mode)
	mirrored := make(sample.Set, len(set))
	copy(mirrored, set)
	err := traverse.Limit(runtime.NumCPU()).Each(len(mirrored), func(i int) error {
		s := &mirrored[i]
		dir := filepath.Join(root, "samples", s.Name())
		if err := mirrorSample(s.Dir, dir, mode); err != nil {
			return errors.Wrapf(err, "mirror sample %s", s.Name())
		}
		s.MirrorDir = dir
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mirrored, nil
}

// mirrorSample links or copies the read files of src into dst. Files other
// than read files stay behind: the tools only consume reads, and stage
// outputs belong to the work directory.
func mirrorSample(src, dst string, mode Mode) error {
	files, err := sample.ReadFiles(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, f := range files {
		if err := mirrorFile(f, filepath.Join(dst, filepath.Base(f)), mode); err != nil {
			return err
		}
	}
	return nil
}

// mirrorFile materializes src at dst. A leftover from an earlier run is
// replaced, so a re-run refreshes stale links instead of failing on them.
func mirrorFile(src, dst string, mode Mode) error {
	if mode == Copy {
		return copyFile(src, dst)
	}
	if _, err := os.Lstat(dst); err == nil {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	switch mode {
	case Soft:
		abs, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		return os.Symlink(abs, dst)
	case Hard:
		return os.Link(src, dst)
	}
	return errors.Errorf("mode %s cannot mirror files", mode)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() // nolint: errcheck
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() // nolint: errcheck
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// The open mode does not apply when dst already existed.
	return os.Chmod(dst, info.Mode().Perm())
}
