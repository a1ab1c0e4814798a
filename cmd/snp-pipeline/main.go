package main

/*
snp-pipeline orchestrates a reference-based variant calling pipeline over a
set of samples: reference preparation, per-sample alignment and variant
pre-processing, SNP list and matrix construction, reference-SNP extraction
and per-sample metrics, each stage an external tool invocation.

Stages run either directly on this host through a bounded worker pool, or as
array jobs on an SGE or Torque cluster with stage ordering delegated to the
scheduler's dependency engine. Every validation failure exits with its own
code so wrapping automation can branch on the failure class.
*/

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/pkg/errors"
	"github.com/rlpires/snp-pipeline/config"
	"github.com/rlpires/snp-pipeline/fasta"
	"github.com/rlpires/snp-pipeline/mirror"
	"github.com/rlpires/snp-pipeline/pipeline"
	"github.com/rlpires/snp-pipeline/sample"
	"github.com/rlpires/snp-pipeline/scheduler"
	"github.com/rlpires/snp-pipeline/workdir"
)

var (
	samplesDir = flag.String("samples", "", "Parent directory holding one subdirectory per sample; this xor -list required")
	listFile   = flag.String("list", "", "File listing sample directories, one per line; this xor -samples required")
	outDir     = flag.String("o", "snp-work", "Work directory receiving pipeline outputs and logs")
	schedName  = flag.String("scheduler", "none", "Execution backend; 'none' runs stages on this host, 'sge' and 'torque' submit them to the cluster scheduler")
	mirrorMode = flag.String("mirror", "none", "Input mirroring mode: 'none', 'soft' (symlinks), 'hard' (hard links) or 'copy'")
	force      = flag.Bool("force", false, "Make every tool rebuild its outputs regardless of freshness")
	configFile = flag.String("config", "", "TOML file overriding the built-in run configuration")
)

// Exit codes, one per failure class, stable for wrapping automation.
const (
	exitRunFailure = 1
	exitUsage      = 2
	exitReference  = 3
	exitSamples    = 4
	exitWorkDir    = 5
	exitScheduler  = 6
	exitMirror     = 7
	exitConfig     = 8
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <reference.fasta>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

// fail reports one fatal validation problem with a usage reminder and exits
// with the failure's class code.
func fail(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	fmt.Fprintf(os.Stderr, "usage: %s [options] <reference.fasta>; run with -help for details\n",
		filepath.Base(os.Args[0]))
	os.Exit(code)
}

func newBackend(name string, cfg *config.Config) (scheduler.Backend, error) {
	extra, err := cfg.QsubArgv()
	if err != nil {
		return nil, err
	}
	switch name {
	case "none":
		return scheduler.NewLocalPool(cfg.MaxLocalJobs), nil
	case "sge":
		return scheduler.NewSGE(scheduler.SGEOpts{ExtraArgs: extra, PerIndexDeps: cfg.PerIndexDeps})
	case "torque":
		return scheduler.NewTorque(scheduler.TorqueOpts{ExtraArgs: extra, PerIndexDeps: cfg.PerIndexDeps})
	}
	return nil, errors.Errorf("unknown scheduler %q (want none, sge or torque)", name)
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		fail(exitUsage, "expected exactly one positional argument, the reference FASTA, got %d", flag.NArg())
	}
	refPath := flag.Arg(0)
	// The source checks run before either source is touched.
	if *samplesDir != "" && *listFile != "" {
		fail(exitUsage, "-samples and -list are mutually exclusive")
	}
	if *samplesDir == "" && *listFile == "" {
		fail(exitUsage, "one of -samples or -list is required")
	}
	mode, err := mirror.ParseMode(*mirrorMode)
	if err != nil {
		fail(exitMirror, "%v", err)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		fail(exitConfig, "%v", err)
	}
	backend, err := newBackend(*schedName, cfg)
	if err != nil {
		fail(exitScheduler, "%v", err)
	}

	stats, err := fasta.ScanFile(refPath)
	if err != nil {
		fail(exitReference, "%v", err)
	}
	log.Printf("reference %s: %d sequence(s), %s bases",
		refPath, stats.Sequences, humanize.Comma(stats.Bases))

	var set sample.Set
	if *samplesDir != "" {
		set, err = sample.FromParent(*samplesDir)
	} else {
		set, err = sample.FromListFile(*listFile)
	}
	if err != nil {
		fail(exitSamples, "%v", err)
	}
	if err := set.SortBySize(); err != nil {
		fail(exitSamples, "%v", err)
	}

	dir, err := workdir.New(*outDir)
	if err != nil {
		fail(exitWorkDir, "%v", err)
	}

	// With mirroring on, the run consumes the mirrored inputs; the sorter
	// reruns against them so the persisted order reflects what the stages
	// will read.
	refEffective := refPath
	if mode != mirror.None {
		refEffective, err = mirror.Reference(dir.Root, refPath, mode)
		if err != nil {
			log.Fatalf("%v", err)
		}
		set, err = mirror.Samples(dir.Root, set, mode)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if err := set.SortBySize(); err != nil {
			log.Fatalf("%v", err)
		}
	}

	ctx := vcontext.Background()
	err = pipeline.Run(ctx, backend, dir, pipeline.Opts{
		Reference: refEffective,
		Samples:   set,
		Force:     *force,
		Config:    cfg,
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
}
