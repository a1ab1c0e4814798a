// Package scheduler provides the execution backends that run pipeline
// stages: a bounded local worker pool and two batch-scheduler submitters
// (SGE and Torque) speaking their respective qsub dialects.
//
// All three satisfy the same contract: one Submit call schedules one
// stage's work, fanning a per-sample stage out over the sample set, and
// returns job handles the next stage's submission can depend on. Under the
// local pool Submit blocks until the stage finishes, so a returned handle
// is a completion guarantee; under the remote backends Submit returns as
// soon as the scheduler accepts the submission and ordering is enforced by
// the scheduler honoring the declared dependencies.
package scheduler

import (
	"context"
	"strings"

	"github.com/rlpires/snp-pipeline/sample"
)

// Job is one backend execution handle. Remote backends fill ID with the
// scheduler-assigned token that downstream dependency clauses reference;
// the local pool fills it with a synthetic name since completion is already
// guaranteed by the time Submit returns.
type Job struct {
	// Stage is the originating stage name.
	Stage string
	// ID is the submission token. Every task of one array submission
	// shares the token.
	ID string
	// Index is the task's 1-based position in the array, matching the
	// persisted sample list; 0 for single-cardinality jobs.
	Index int
	// Array is set when the job was submitted as part of an indexed
	// array. Dependencies on it must use the whole-array barrier form.
	Array bool
	// DependsOn lists the predecessor tokens declared at submission.
	DependsOn []string
}

// Request describes one stage submission.
type Request struct {
	// Stage names the submission; it becomes the scheduler job name and
	// the log file prefix.
	Stage string
	// Argv is the tool command line. Per-sample tasks receive their
	// sample directory appended as one final argument.
	Argv []string
	// Samples fans the stage out, one task per sample in set order; empty
	// means a single task.
	Samples sample.Set
	// ListPath is the persisted ordered sample list. Remote array tasks
	// resolve their sample directory from it by task index.
	ListPath string
	// Deps are the jobs of every predecessor stage.
	Deps []Job
	// Env holds KEY=VALUE pairs exported to the tool's environment.
	Env []string
	// Threads and Walltime are resource hints; Walltime (HH:MM:SS) is
	// advisory to the remote scheduler's own preemption policy.
	Threads  int
	Walltime string
	// Workdir is the run's work directory root; LogDir receives the
	// stage's log files.
	Workdir string
	LogDir  string
}

// PerSample reports whether the request fans out over samples.
func (r *Request) PerSample() bool { return len(r.Samples) > 0 }

// Backend schedules or executes stage submissions.
type Backend interface {
	// Name identifies the backend in logs and banner output.
	Name() string
	// Submit schedules one stage. It returns one Job per sample for
	// per-sample requests, in sample order, or a single Job otherwise.
	// Submission errors are fatal to the run; there is no retry.
	Submit(ctx context.Context, req *Request) ([]Job, error)
}

// depTokens reduces the predecessor jobs to their unique submission
// tokens in first-appearance order, reporting whether each token names an
// array submission.
func depTokens(deps []Job) (tokens []string, isArray map[string]bool) {
	isArray = make(map[string]bool, 1)
	for _, j := range deps {
		if j.ID == "" {
			continue
		}
		if _, ok := isArray[j.ID]; !ok {
			tokens = append(tokens, j.ID)
		}
		isArray[j.ID] = isArray[j.ID] || j.Array
	}
	return tokens, isArray
}

// perIndexEligible reports whether an element-wise array dependency could
// replace the whole-array barrier: every predecessor job must belong to one
// array whose cardinality equals this request's fan-out, so that task i
// depends exactly on predecessor task i.
func perIndexEligible(req *Request) bool {
	if !req.PerSample() || len(req.Deps) != len(req.Samples) {
		return false
	}
	for _, j := range req.Deps {
		if !j.Array || j.ID != req.Deps[0].ID {
			return false
		}
	}
	return true
}

const shSafe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-./=:%@+,"

// shQuote quotes s for use as one word in a POSIX shell command line.
func shQuote(s string) string {
	if s == "" {
		return "''"
	}
	clean := true
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(shSafe, rune(s[i])) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shJoin renders argv as a shell command line.
func shJoin(argv []string) string {
	words := make([]string, len(argv))
	for i, a := range argv {
		words[i] = shQuote(a)
	}
	return strings.Join(words, " ")
}

// buildScript renders the job script piped to qsub: exported extra
// parameters followed by the tool command line. Per-sample tasks look
// their sample directory up in the persisted list by the scheduler's task
// index variable.
func buildScript(req *Request, taskVar string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, kv := range req.Env {
		k, v, _ := strings.Cut(kv, "=")
		b.WriteString("export " + k + "=" + shQuote(v) + "\n")
	}
	b.WriteString(shJoin(req.Argv))
	if req.PerSample() {
		b.WriteString(` "$(sed -n "${` + taskVar + `}p" ` + shQuote(req.ListPath) + `)"`)
	}
	b.WriteString("\n")
	return b.String()
}
