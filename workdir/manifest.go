package workdir

import (
	"os"
	"path/filepath"

	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

const manifestName = "jobs.tsv"

// Manifest records every backend submission of a run in
// logs/<run>/jobs.tsv, one row per submission, so operators can map
// scheduler queue state back to pipeline stages.
type Manifest struct {
	f *os.File
	w *tsv.Writer
}

// CreateManifest starts this run's submission manifest.
func (d *Dir) CreateManifest() (*Manifest, error) {
	path := filepath.Join(d.LogDir, manifestName)
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "job manifest %s", path)
	}
	m := &Manifest{f: f, w: tsv.NewWriter(f)}
	for _, col := range []string{"stage", "job_id", "tasks", "depends_on"} {
		m.w.WriteString(col)
	}
	if err := m.w.EndLine(); err != nil {
		return nil, err
	}
	if err := m.w.Flush(); err != nil {
		return nil, err
	}
	return m, nil
}

// Append records one submission. Rows are flushed immediately so the
// manifest tracks a live run. dependsOn is empty for the root stage.
func (m *Manifest) Append(stageName, jobID string, tasks int, dependsOn string) error {
	m.w.WriteString(stageName)
	m.w.WriteString(jobID)
	m.w.WriteInt64(int64(tasks))
	m.w.WriteString(dependsOn)
	if err := m.w.EndLine(); err != nil {
		return err
	}
	return m.w.Flush()
}

// Close flushes and closes the manifest file.
func (m *Manifest) Close() error {
	if err := m.w.Flush(); err != nil {
		_ = m.f.Close()
		return err
	}
	return m.f.Close()
}
