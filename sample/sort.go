package sample

import (
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

// SortBySize computes each sample's aggregate read-file byte size and
// reorders the set by descending size. Under bounded parallelism this
// front-loads the slowest samples and shrinks the idle tail at the end of
// each per-sample stage.
//
// The sort key is a pure function of the read files, symbolic links counted
// at their target size, and the sort is stable, so re-running on unchanged
// inputs reproduces the same order.
func (set Set) SortBySize() error {
	for i := range set {
		size, err := readFileSize(set[i].Path())
		if err != nil {
			return err
		}
		set[i].Size = size
	}
	sort.SliceStable(set, func(i, j int) bool { return set[i].Size > set[j].Size })
	for _, s := range set {
		log.Debug.Printf("sample %s: %s of reads", s.Name(), humanize.Bytes(uint64(s.Size)))
	}
	return nil
}

func readFileSize(dir string) (int64, error) {
	files, err := ReadFiles(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		// Stat, not Lstat: a linked read file costs its target's bytes.
		info, err := os.Stat(f)
		if err != nil {
			return 0, errors.Wrapf(err, "read file %s", f)
		}
		total += info.Size()
	}
	return total, nil
}
