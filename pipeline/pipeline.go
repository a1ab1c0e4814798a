// Package pipeline is the stage graph executor: it walks the fixed stage
// table in dependency order and drives every stage through one execution
// backend, threading each stage's job handles into its successors'
// dependency clauses.
package pipeline

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"github.com/rlpires/snp-pipeline/config"
	"github.com/rlpires/snp-pipeline/sample"
	"github.com/rlpires/snp-pipeline/scheduler"
	"github.com/rlpires/snp-pipeline/stage"
	"github.com/rlpires/snp-pipeline/workdir"
)

// Opts carries one run's effective inputs into the executor.
type Opts struct {
	// Reference is the reference FASTA the tools consume, the mirrored
	// copy when mirroring is in effect.
	Reference string
	// Samples is the validated, size-ordered sample set. Its order is
	// the run's array-index contract; Run persists it before the first
	// submission.
	Samples sample.Set
	// Force makes every tool rebuild its outputs regardless of the
	// freshness checks the tools do on their own.
	Force bool
	// Config is the run configuration.
	Config *config.Config
}

// Run persists the ordered sample list and submits every stage to the
// backend in dependency order. Stage N+1 is never submitted before stage
// N's submission returns. Under the local backend that makes the whole walk
// synchronous with execution; under the remote backends Run completes as
// soon as the last submission is accepted and the scheduler enforces
// ordering from then on.
//
// The first submission failure aborts the walk; stages already accepted by
// a remote scheduler stay queued, held by their dependency clauses.
func Run(ctx context.Context, backend scheduler.Backend, dir *workdir.Dir, opts Opts) error {
	stages, err := stage.ExecutionOrder(stage.Pipeline())
	if err != nil {
		return err
	}
	if err := dir.WriteSampleList(ctx, opts.Samples); err != nil {
		return err
	}

	log.Printf("processing %d sample(s), %s of reads, backend %s, work dir %s (run %s)",
		len(opts.Samples), humanize.Bytes(uint64(opts.Samples.TotalSize())),
		backend.Name(), dir.Root, dir.RunID)

	manifest, err := dir.CreateManifest()
	if err != nil {
		return err
	}
	defer manifest.Close() // nolint: errcheck

	in := stage.Inputs{
		Reference: opts.Reference,
		ListPath:  dir.SampleListPath(),
		Workdir:   dir.Root,
		Force:     opts.Force,
	}
	byStage := make(map[string][]scheduler.Job, len(stages))
	for _, st := range stages {
		res := opts.Config.ResourcesFor(st)
		req := &scheduler.Request{
			Stage:    st.Name,
			Argv:     st.Render(in),
			Env:      opts.Config.Env(st),
			Threads:  res.Threads,
			Walltime: res.Walltime,
			Workdir:  dir.Root,
			LogDir:   dir.LogDir,
		}
		tasks := 1
		if st.Cardinality == stage.PerSample {
			req.Samples = opts.Samples
			req.ListPath = dir.SampleListPath()
			tasks = len(opts.Samples)
		}
		for _, dep := range st.After {
			req.Deps = append(req.Deps, byStage[dep]...)
		}

		log.Printf("stage %s: submitting %d task(s)", st.Name, tasks)
		jobs, err := backend.Submit(ctx, req)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return errors.Errorf("stage %s: backend %s returned no jobs", st.Name, backend.Name())
		}
		byStage[st.Name] = jobs
		if err := manifest.Append(st.Name, jobs[0].ID, tasks, strings.Join(jobs[0].DependsOn, ",")); err != nil {
			return err
		}
	}
	log.Printf("all %d stages submitted", len(stages))
	return nil
}
