// Package workdir lays out the directory a pipeline run writes into: the
// persisted ordered sample list, a timestamped log directory per run, and
// the jobs.tsv manifest recording every backend submission.
package workdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	pkgerrors "github.com/pkg/errors"
	"github.com/rlpires/snp-pipeline/sample"
)

const (
	sampleListName = "sample_dirs.txt"
	logsDirName    = "logs"
	// runStampFormat names the per-run log directory; the stamp is the
	// run's identity in every operator-facing path.
	runStampFormat = "20060102.150405"
)

// Dir is the work directory of one pipeline run.
type Dir struct {
	// Root holds the run artifacts: the sample list, the stage outputs
	// written by the external tools, and the logs/ subtree.
	Root string
	// LogDir is Root/logs/<stamp>, created fresh for this run.
	LogDir string
	// RunID is the log directory's timestamp.
	RunID string
}

// New creates the work directory rooted at root along with this run's log
// directory. The root may already exist from an earlier run; the log
// directory stamp separates runs from each other.
func New(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0777); err != nil {
		return nil, pkgerrors.Wrapf(err, "work directory %s", root)
	}
	runID := time.Now().Format(runStampFormat)
	logDir := filepath.Join(root, logsDirName, runID)
	if err := os.MkdirAll(logDir, 0777); err != nil {
		return nil, pkgerrors.Wrapf(err, "log directory %s", logDir)
	}
	return &Dir{Root: root, LogDir: logDir, RunID: runID}, nil
}

// SampleListPath returns the path of the persisted ordered sample list,
// one directory per line. Array jobs index into it by 1-based line number.
func (d *Dir) SampleListPath() string {
	return filepath.Join(d.Root, sampleListName)
}

// WriteSampleList persists the set's effective sample directories in set
// order, replacing any list from an earlier build of the set.
func (d *Dir) WriteSampleList(ctx context.Context, set sample.Set) error {
	out, err := file.Create(ctx, d.SampleListPath())
	if err != nil {
		return pkgerrors.Wrapf(err, "sample list %s", d.SampleListPath())
	}
	w := out.Writer(ctx)
	e := errors.Once{}
	for _, s := range set {
		_, err := fmt.Fprintln(w, s.Path())
		e.Set(err)
	}
	e.Set(out.Close(ctx))
	if e.Err() != nil {
		return pkgerrors.Wrapf(e.Err(), "sample list %s", d.SampleListPath())
	}
	return nil
}

// ReadSampleList reads a persisted sample list back as ordered directory
// paths.
func ReadSampleList(ctx context.Context, path string) ([]string, error) {
	data, err := file.ReadFile(ctx, path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "sample list %s", path)
	}
	var dirs []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			dirs = append(dirs, line)
		}
	}
	return dirs, nil
}

// StageLog returns the log path for a single-cardinality stage.
func (d *Dir) StageLog(stageName string) string {
	return filepath.Join(d.LogDir, stageName+".log")
}

// TaskLog returns the log path for one task of a per-sample stage, indexed
// the same way the persisted sample list is.
func (d *Dir) TaskLog(stageName string, index int) string {
	return filepath.Join(d.LogDir, fmt.Sprintf("%s.%d.log", stageName, index))
}
