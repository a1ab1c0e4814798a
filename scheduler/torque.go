package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Torque submits stages to a Torque/PBS cluster. Semantically it matches
// the SGE backend; only the submission envelope differs: dependencies are
// declared with -W depend=afterok:... for single jobs and
// -W depend=afterokarray:... as the whole-array barrier.
type Torque struct {
	qsubPath  string
	extraArgs []string
	run       qsubFunc
}

// TorqueOpts configures the Torque backend.
type TorqueOpts struct {
	// ExtraArgs is appended verbatim to every qsub invocation.
	ExtraArgs []string
	// PerIndexDeps is rejected: Torque has no element-wise array
	// dependency form, so the whole-array barrier is the only policy.
	PerIndexDeps bool
}

// NewTorque returns a Torque backend, failing if qsub is not on the PATH
// or an unsupported option is set.
func NewTorque(opts TorqueOpts) (*Torque, error) {
	if opts.PerIndexDeps {
		return nil, errors.New("per-index dependencies are not supported by the torque backend")
	}
	path, err := findQsub()
	if err != nil {
		return nil, err
	}
	return &Torque{qsubPath: path, extraArgs: opts.ExtraArgs, run: runQsub}, nil
}

// Name implements Backend.
func (t *Torque) Name() string { return "torque" }

// Submit implements Backend.
func (t *Torque) Submit(ctx context.Context, req *Request) ([]Job, error) {
	argv := []string{"-d", req.Workdir, "-V", "-N", req.Stage, "-j", "oe"}
	// Torque suffixes array task output files with the task index itself.
	argv = append(argv, "-o", filepath.Join(req.LogDir, req.Stage+".log"))
	if req.PerSample() {
		argv = append(argv, "-t", fmt.Sprintf("1-%d", len(req.Samples)))
	}
	tokens, isArray := depTokens(req.Deps)
	if len(tokens) > 0 {
		var singles, arrays []string
		for _, tok := range tokens {
			if isArray[tok] {
				arrays = append(arrays, tok)
			} else {
				singles = append(singles, tok)
			}
		}
		var parts []string
		if len(singles) > 0 {
			parts = append(parts, "afterok:"+strings.Join(singles, ":"))
		}
		if len(arrays) > 0 {
			parts = append(parts, "afterokarray:"+strings.Join(arrays, ":"))
		}
		argv = append(argv, "-W", "depend="+strings.Join(parts, ","))
	}
	res := fmt.Sprintf("nodes=1:ppn=%d", req.Threads)
	if req.Threads < 1 {
		res = "nodes=1:ppn=1"
	}
	if req.Walltime != "" {
		res += ",walltime=" + req.Walltime
	}
	argv = append(argv, "-l", res)
	argv = append(argv, t.extraArgs...)

	token, err := t.run(ctx, t.qsubPath, argv, buildScript(req, "PBS_ARRAYID"))
	if err != nil {
		return nil, errors.Wrapf(err, "stage %s", req.Stage)
	}

	if !req.PerSample() {
		return []Job{{Stage: req.Stage, ID: token, DependsOn: tokens}}, nil
	}
	jobs := make([]Job, len(req.Samples))
	for i := range req.Samples {
		jobs[i] = Job{Stage: req.Stage, ID: token, Index: i + 1, Array: true, DependsOn: tokens}
	}
	return jobs, nil
}
