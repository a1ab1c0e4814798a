package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

// sgeSettleDelay separates two consecutive array submissions. Queuing two
// big arrays back to back can trip a scheduler race where the second
// array's dependency registration misses tasks of the first.
const sgeSettleDelay = 2 * time.Second

// SGE submits stages to a Sun/Univa Grid Engine cluster. Submissions are
// asynchronous: a dependent stage references the predecessor's job token in
// a -hold_jid clause, which holds it until the whole predecessor job
// (array included) completes.
type SGE struct {
	qsubPath     string
	extraArgs    []string
	perIndexDeps bool
	clock        clock.Clock
	run          qsubFunc
	// lastArray is the time of the last array submission, zero before the
	// first one.
	lastArray time.Time
}

// SGEOpts configures the SGE backend.
type SGEOpts struct {
	// ExtraArgs is appended verbatim to every qsub invocation.
	ExtraArgs []string
	// PerIndexDeps declares array-on-array dependencies element-wise
	// (-hold_jid_ad) where the cardinalities line up, instead of the
	// default whole-array barrier.
	PerIndexDeps bool
	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock
}

// NewSGE returns an SGE backend, failing if qsub is not on the PATH.
func NewSGE(opts SGEOpts) (*SGE, error) {
	path, err := findQsub()
	if err != nil {
		return nil, err
	}
	c := opts.Clock
	if c == nil {
		c = clock.New()
	}
	return &SGE{
		qsubPath:     path,
		extraArgs:    opts.ExtraArgs,
		perIndexDeps: opts.PerIndexDeps,
		clock:        c,
		run:          runQsub,
	}, nil
}

// Name implements Backend.
func (s *SGE) Name() string { return "sge" }

// Submit implements Backend.
func (s *SGE) Submit(ctx context.Context, req *Request) ([]Job, error) {
	argv := []string{"-terse", "-wd", req.Workdir, "-V", "-N", req.Stage, "-j", "y"}
	if req.PerSample() {
		// $TASK_ID is expanded by the scheduler per array task.
		argv = append(argv, "-o", filepath.Join(req.LogDir, req.Stage+".$TASK_ID.log"))
		argv = append(argv, "-t", fmt.Sprintf("1-%d", len(req.Samples)))
	} else {
		argv = append(argv, "-o", filepath.Join(req.LogDir, req.Stage+".log"))
	}
	tokens, _ := depTokens(req.Deps)
	if len(tokens) > 0 {
		holdFlag := "-hold_jid"
		if s.perIndexDeps && perIndexEligible(req) {
			holdFlag = "-hold_jid_ad"
		}
		argv = append(argv, holdFlag, strings.Join(tokens, ","))
	}
	if req.Threads > 1 {
		argv = append(argv, "-pe", "smp", strconv.Itoa(req.Threads))
	}
	if req.Walltime != "" {
		argv = append(argv, "-l", "h_rt="+req.Walltime)
	}
	argv = append(argv, s.extraArgs...)

	if req.PerSample() && !s.lastArray.IsZero() {
		if wait := sgeSettleDelay - s.clock.Since(s.lastArray); wait > 0 {
			log.Debug.Printf("stage %s: letting the previous array submission settle for %v", req.Stage, wait)
			s.clock.Sleep(wait)
		}
	}

	raw, err := s.run(ctx, s.qsubPath, argv, buildScript(req, "SGE_TASK_ID"))
	if err != nil {
		return nil, errors.Wrapf(err, "stage %s", req.Stage)
	}
	// Array submissions report "<jobid>.1-N:1" in terse mode; the token
	// downstream clauses need is the bare job id.
	token, _, _ := strings.Cut(raw, ".")
	if token == "" {
		return nil, errors.Errorf("stage %s: malformed qsub job id %q", req.Stage, raw)
	}

	if !req.PerSample() {
		return []Job{{Stage: req.Stage, ID: token, DependsOn: tokens}}, nil
	}
	s.lastArray = s.clock.Now()
	jobs := make([]Job, len(req.Samples))
	for i := range req.Samples {
		jobs[i] = Job{Stage: req.Stage, ID: token, Index: i + 1, Array: true, DependsOn: tokens}
	}
	return jobs, nil
}
