package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LocalPool runs stage commands directly on the host, at most
// min(MaxJobs, runtime.NumCPU()) at a time. Submit blocks until the whole
// stage finishes, so the stage graph executor's walk is fully synchronous
// under this backend.
//
// When a task fails the pool stops launching further tasks but lets the
// ones already running drain; Submit then returns the first failure. Tasks
// are never killed mid-flight, matching the remote backends where a failed
// array leaves its running siblings alone.
type LocalPool struct {
	// MaxJobs bounds stage fan-out concurrency; 0 means runtime.NumCPU().
	MaxJobs int
}

// NewLocalPool returns a pool bounded by maxJobs.
func NewLocalPool(maxJobs int) *LocalPool {
	return &LocalPool{MaxJobs: maxJobs}
}

// Name implements Backend.
func (p *LocalPool) Name() string { return "local" }

func (p *LocalPool) bound() int {
	n := runtime.NumCPU()
	if p.MaxJobs > 0 && p.MaxJobs < n {
		n = p.MaxJobs
	}
	return n
}

// Submit implements Backend. Per-sample stages consume the sample set as
// an ordered queue, so the largest samples (first in set order) start
// first; single stages run inline on the caller.
func (p *LocalPool) Submit(ctx context.Context, req *Request) ([]Job, error) {
	tokens, _ := depTokens(req.Deps)

	if !req.PerSample() {
		job := Job{Stage: req.Stage, ID: "local/" + req.Stage, DependsOn: tokens}
		logPath := filepath.Join(req.LogDir, req.Stage+".log")
		if err := p.runTask(req, req.Argv, logPath); err != nil {
			return nil, errors.Wrapf(err, "stage %s", req.Stage)
		}
		return []Job{job}, nil
	}

	bound := p.bound()
	log.Debug.Printf("stage %s: running %d task(s), %d at a time", req.Stage, len(req.Samples), bound)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bound)
	for i := range req.Samples {
		i := i
		g.Go(func() error {
			// A failed sibling cancels gctx: skip tasks not yet started
			// and let the ones in flight drain.
			if gctx.Err() != nil {
				return nil
			}
			argv := append(append([]string{}, req.Argv...), req.Samples[i].Path())
			logPath := filepath.Join(req.LogDir, fmt.Sprintf("%s.%d.log", req.Stage, i+1))
			if err := p.runTask(req, argv, logPath); err != nil {
				log.Error.Printf("stage %s: task %d (%s): %v", req.Stage, i+1, req.Samples[i].Name(), err)
				return errors.Wrapf(err, "task %d (%s)", i+1, req.Samples[i].Name())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrapf(err, "stage %s", req.Stage)
	}
	jobs := make([]Job, len(req.Samples))
	for i := range req.Samples {
		jobs[i] = Job{
			Stage:     req.Stage,
			ID:        "local/" + req.Stage,
			Index:     i + 1,
			Array:     true,
			DependsOn: tokens,
		}
	}
	return jobs, nil
}

// runTask executes one command with stdout and stderr captured to the
// task's own log file.
func (p *LocalPool) runTask(req *Request, argv []string, logPath string) error {
	out, err := os.Create(logPath)
	if err != nil {
		return errors.Wrapf(err, "task log %s", logPath)
	}
	defer out.Close() // nolint: errcheck

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.Workdir
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s (log: %s)", argv[0], logPath)
	}
	return nil
}
