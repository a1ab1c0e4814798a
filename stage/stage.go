// Package stage defines the fixed variant-calling pipeline: the stages, the
// dependency edges between them, and the command each stage runs.
//
// The stage table is static. Users select inputs, a backend and resource
// overrides, but never add or reorder stages; the table plus its dependency
// graph is the whole contract between the executor and the backends.
package stage

import (
	"strings"
)

// Cardinality says how a stage fans out over the sample set.
type Cardinality int

const (
	// Single stages run one command per pipeline run.
	Single Cardinality = iota
	// PerSample stages run one command per sample, submitted as one array
	// with a 1-based index into the persisted sample list.
	PerSample
)

func (c Cardinality) String() string {
	if c == PerSample {
		return "per-sample"
	}
	return "single"
}

// Stage is one unit of pipeline work: an external tool invocation with a
// fan-out cardinality, the stages it must wait for, and default resource
// requests for the batch schedulers.
type Stage struct {
	Name        string
	Cardinality Cardinality
	// After lists the names of the stages whose jobs this stage's
	// dependency clause must reference. A per-sample predecessor is always
	// referenced as a whole-array barrier.
	After []string
	// Tool is the external executable. Args are its arguments before
	// placeholder substitution; per-sample stages have their sample
	// directory appended as the final argument at submission time.
	Tool string
	Args []string
	// Threads and Walltime are scheduler resource hints, overridable per
	// stage from the run configuration. Walltime is HH:MM:SS.
	Threads  int
	Walltime string
}

// Command placeholders, substituted by Render.
const (
	RefPlaceholder     = "{ref}"     // reference FASTA path
	ListPlaceholder    = "{list}"    // persisted ordered sample list
	WorkdirPlaceholder = "{workdir}" // work directory root
)

// Stage names, in table order.
const (
	PrepReference  = "prep-reference"
	AlignSamples   = "align-samples"
	PrepSamples    = "prep-samples"
	SNPList        = "snp-list"
	SNPPileup      = "snp-pileup"
	SNPMatrix      = "snp-matrix"
	SNPReference   = "snp-reference"
	CollectMetrics = "collect-metrics"
	CombineMetrics = "combine-metrics"
)

// Pipeline returns the fixed stage table. The table is the authoritative
// execution order; ExecutionOrder re-derives it from the dependency edges to
// keep the two honest with each other.
func Pipeline() []Stage {
	return []Stage{
		{
			Name:        PrepReference,
			Cardinality: Single,
			Tool:        "snp-prep-reference",
			Args:        []string{"{ref}"},
			Threads:     8,
			Walltime:    "04:00:00",
		},
		{
			Name:        AlignSamples,
			Cardinality: PerSample,
			After:       []string{PrepReference},
			Tool:        "snp-align-sample",
			Args:        []string{"{ref}"},
			Threads:     8,
			Walltime:    "12:00:00",
		},
		{
			Name:        PrepSamples,
			Cardinality: PerSample,
			After:       []string{AlignSamples},
			Tool:        "snp-prep-sample",
			Args:        []string{"{ref}"},
			Threads:     8,
			Walltime:    "12:00:00",
		},
		{
			Name:        SNPList,
			Cardinality: Single,
			After:       []string{PrepSamples},
			Tool:        "snp-list",
			Args:        []string{"-o", "{workdir}/snplist.txt", "{list}"},
			Threads:     1,
			Walltime:    "04:00:00",
		},
		{
			Name:        SNPPileup,
			Cardinality: PerSample,
			After:       []string{SNPList},
			Tool:        "snp-pileup",
			Args:        []string{"-l", "{workdir}/snplist.txt", "{ref}"},
			Threads:     1,
			Walltime:    "08:00:00",
		},
		{
			Name:        SNPMatrix,
			Cardinality: Single,
			After:       []string{SNPPileup},
			Tool:        "snp-matrix",
			Args:        []string{"-l", "{workdir}/snplist.txt", "-o", "{workdir}/snpma.tsv", "{list}"},
			Threads:     8,
			Walltime:    "08:00:00",
		},
		{
			Name:        SNPReference,
			Cardinality: Single,
			After:       []string{SNPPileup},
			Tool:        "snp-reference-seq",
			Args:        []string{"-l", "{workdir}/snplist.txt", "-o", "{workdir}/referenceSNP.fasta", "{ref}"},
			Threads:     1,
			Walltime:    "04:00:00",
		},
		{
			Name:        CollectMetrics,
			Cardinality: PerSample,
			After:       []string{SNPMatrix},
			Tool:        "snp-collect-metrics",
			Args:        []string{"-m", "{workdir}/snpma.tsv", "{ref}"},
			Threads:     1,
			Walltime:    "02:00:00",
		},
		{
			Name:        CombineMetrics,
			Cardinality: Single,
			After:       []string{CollectMetrics},
			Tool:        "snp-combine-metrics",
			Args:        []string{"-o", "{workdir}/metrics.tsv", "{list}"},
			Threads:     1,
			Walltime:    "02:00:00",
		},
	}
}

// Names returns the stage names in table order.
func Names() []string {
	stages := Pipeline()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return names
}

// Inputs carries the run-level values substituted into stage command
// templates.
type Inputs struct {
	Reference string // effective reference path, mirrored when mirroring is on
	ListPath  string // persisted ordered sample list
	Workdir   string // work directory root
	// Force is forwarded to every tool so it rebuilds outputs regardless of
	// its own freshness checks.
	Force bool
}

// Render resolves the stage's command template against in, returning the
// tool and its fixed arguments. Per-sample stages receive their sample
// directory as one extra trailing argument, appended by the backend for
// each array index.
func (s Stage) Render(in Inputs) []string {
	r := strings.NewReplacer(
		RefPlaceholder, in.Reference,
		ListPlaceholder, in.ListPath,
		WorkdirPlaceholder, in.Workdir,
	)
	argv := make([]string, 0, len(s.Args)+2)
	argv = append(argv, s.Tool)
	if in.Force {
		argv = append(argv, "-f")
	}
	for _, a := range s.Args {
		argv = append(argv, r.Replace(a))
	}
	return argv
}

// EnvName returns the environment variable consulted by the stage's tool
// for extra parameters, e.g. SNP_PILEUP_EXTRA_PARAMS for snp-pileup.
func (s Stage) EnvName() string {
	return strings.ToUpper(strings.ReplaceAll(s.Name, "-", "_")) + "_EXTRA_PARAMS"
}
