package scheduler

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/rlpires/snp-pipeline/sample"
	"github.com/rlpires/snp-pipeline/stage"
)

type qsubCall struct {
	argv   []string
	script string
}

// fakeQsub captures submissions and plays back canned qsub output lines.
type fakeQsub struct {
	out   []string
	calls []qsubCall
}

func (f *fakeQsub) run(_ context.Context, _ string, argv []string, script string) (string, error) {
	f.calls = append(f.calls, qsubCall{argv: argv, script: script})
	return f.out[len(f.calls)-1], nil
}

func newTestSGE(fake *fakeQsub, perIndex bool) *SGE {
	return &SGE{
		qsubPath:     "/usr/bin/qsub",
		perIndexDeps: perIndex,
		clock:        clock.NewMock(),
		run:          fake.run,
	}
}

func TestSGESingleSubmit(t *testing.T) {
	fake := &fakeQsub{out: []string{"9001"}}
	s := newTestSGE(fake, false)

	jobs, err := s.Submit(context.Background(), &Request{
		Stage:    "prep-reference",
		Argv:     []string{"snp-prep-reference", "/work/ref.fasta"},
		Threads:  8,
		Walltime: "04:00:00",
		Workdir:  "/work",
		LogDir:   "/work/logs/run1",
	})
	assert.NoError(t, err)
	expect.EQ(t, jobs, []Job{{Stage: "prep-reference", ID: "9001"}})

	assert.EQ(t, len(fake.calls), 1)
	expect.EQ(t, fake.calls[0].argv, []string{
		"-terse", "-wd", "/work", "-V", "-N", "prep-reference", "-j", "y",
		"-o", "/work/logs/run1/prep-reference.log",
		"-pe", "smp", "8",
		"-l", "h_rt=04:00:00",
	})
	expect.EQ(t, fake.calls[0].script, "#!/bin/sh\nsnp-prep-reference /work/ref.fasta\n")
}

func TestSGEArraySubmit(t *testing.T) {
	fake := &fakeQsub{out: []string{"9002.1-3:1"}}
	s := newTestSGE(fake, false)

	samples := sample.Set{{Dir: "/data/s3"}, {Dir: "/data/s1"}, {Dir: "/data/s2"}}
	jobs, err := s.Submit(context.Background(), &Request{
		Stage:    "align-samples",
		Argv:     []string{"snp-align-sample", "/work/ref.fasta"},
		Samples:  samples,
		ListPath: "/work/sample_dirs.txt",
		Deps:     []Job{{Stage: "prep-reference", ID: "9001"}},
		Threads:  8,
		Walltime: "12:00:00",
		Workdir:  "/work",
		LogDir:   "/work/logs/run1",
	})
	assert.NoError(t, err)

	// The terse array id keeps only the job token; one handle per sample,
	// 1-based, in sample order.
	assert.EQ(t, len(jobs), 3)
	for i, j := range jobs {
		expect.EQ(t, j.ID, "9002", "job %d", i)
		expect.EQ(t, j.Index, i+1)
		expect.True(t, j.Array)
		expect.EQ(t, j.DependsOn, []string{"9001"})
	}

	argv := fake.calls[0].argv
	expect.EQ(t, argv, []string{
		"-terse", "-wd", "/work", "-V", "-N", "align-samples", "-j", "y",
		"-o", "/work/logs/run1/align-samples.$TASK_ID.log",
		"-t", "1-3",
		"-hold_jid", "9001",
		"-pe", "smp", "8",
		"-l", "h_rt=12:00:00",
	})
	expect.EQ(t, fake.calls[0].script,
		"#!/bin/sh\n"+`snp-align-sample /work/ref.fasta "$(sed -n "${SGE_TASK_ID}p" /work/sample_dirs.txt)"`+"\n")
}

func TestSGEExtraArgs(t *testing.T) {
	fake := &fakeQsub{out: []string{"9001"}}
	s := newTestSGE(fake, false)
	s.extraArgs = []string{"-q", "long.q"}

	_, err := s.Submit(context.Background(), &Request{
		Stage:   "snp-list",
		Argv:    []string{"snp-list", "-o", "/work/snplist.txt", "/work/sample_dirs.txt"},
		Threads: 1,
		Workdir: "/work",
		LogDir:  "/work/logs/run1",
	})
	assert.NoError(t, err)
	argv := fake.calls[0].argv
	expect.EQ(t, argv[len(argv)-2:], []string{"-q", "long.q"})
	// Single-threaded stages request no parallel environment.
	for _, a := range argv {
		expect.True(t, a != "-pe", "unexpected -pe in %v", argv)
	}
}

// The whole fixed pipeline, submitted with default options, must declare
// every dependency as a whole-job hold: -hold_jid_ad never appears, and
// each per-sample stage's clause references its predecessor's array token.
func TestSGEBarrierDependenciesAcrossPipeline(t *testing.T) {
	stages := stage.Pipeline()
	fake := &fakeQsub{}
	for i := range stages {
		fake.out = append(fake.out, strconv.Itoa(1000+i))
	}
	mock := clock.NewMock()
	s := &SGE{qsubPath: "/usr/bin/qsub", clock: mock, run: fake.run}

	samples := sample.Set{{Dir: "/data/s1"}, {Dir: "/data/s2"}}
	byStage := map[string][]Job{}
	for _, st := range stages {
		req := &Request{
			Stage:    st.Name,
			Argv:     []string{st.Tool},
			ListPath: "/work/sample_dirs.txt",
			Workdir:  "/work",
			LogDir:   "/work/logs/run1",
		}
		if st.Cardinality == stage.PerSample {
			req.Samples = samples
		}
		for _, dep := range st.After {
			req.Deps = append(req.Deps, byStage[dep]...)
		}
		// Keep consecutive array submissions outside the settle window.
		mock.Add(sgeSettleDelay)
		jobs, err := s.Submit(context.Background(), req)
		assert.NoError(t, err, st.Name)
		byStage[st.Name] = jobs
	}

	assert.EQ(t, len(fake.calls), len(stages))
	for i, st := range stages {
		argv := fake.calls[i].argv
		holds := 0
		for k, a := range argv {
			expect.True(t, a != "-hold_jid_ad", "stage %s declared a per-index dependency", st.Name)
			if a == "-hold_jid" {
				holds++
				assert.EQ(t, len(st.After), 1, st.Name)
				predJobs := byStage[st.After[0]]
				expect.EQ(t, argv[k+1], predJobs[0].ID, "stage %s", st.Name)
			}
		}
		expect.EQ(t, holds > 0, len(st.After) > 0, st.Name)
	}
}

func TestSGEPerIndexOptIn(t *testing.T) {
	samples := sample.Set{{Dir: "/data/s1"}, {Dir: "/data/s2"}}
	alignJobs := []Job{
		{Stage: "align-samples", ID: "7001", Index: 1, Array: true},
		{Stage: "align-samples", ID: "7001", Index: 2, Array: true},
	}

	fake := &fakeQsub{out: []string{"7002.1-2:1", "7003"}}
	s := newTestSGE(fake, true)

	// Array following an equal-size array: element-wise hold.
	_, err := s.Submit(context.Background(), &Request{
		Stage:    "prep-samples",
		Argv:     []string{"snp-prep-sample", "/work/ref.fasta"},
		Samples:  samples,
		ListPath: "/work/sample_dirs.txt",
		Deps:     alignJobs,
		Workdir:  "/work",
		LogDir:   "/work/logs/run1",
	})
	assert.NoError(t, err)
	expect.True(t, contains(fake.calls[0].argv, "-hold_jid_ad"))

	// A single stage after an array still takes the barrier form even with
	// the opt-in enabled.
	_, err = s.Submit(context.Background(), &Request{
		Stage:   "snp-list",
		Argv:    []string{"snp-list"},
		Deps:    alignJobs,
		Workdir: "/work",
		LogDir:  "/work/logs/run1",
	})
	assert.NoError(t, err)
	expect.True(t, contains(fake.calls[1].argv, "-hold_jid"))
	expect.False(t, contains(fake.calls[1].argv, "-hold_jid_ad"))
}

func contains(argv []string, want string) bool {
	for _, a := range argv {
		if a == want {
			return true
		}
	}
	return false
}

func TestSGEArraySettleDelay(t *testing.T) {
	mock := clock.NewMock()
	fake := &fakeQsub{out: []string{"8001.1-2:1", "8002.1-2:1", "8003", "8004.1-2:1"}}
	s := &SGE{qsubPath: "/usr/bin/qsub", clock: mock, run: fake.run}

	samples := sample.Set{{Dir: "/data/s1"}, {Dir: "/data/s2"}}
	arrayReq := func(name string) *Request {
		return &Request{
			Stage:    name,
			Argv:     []string{"tool"},
			Samples:  samples,
			ListPath: "/work/sample_dirs.txt",
			Workdir:  "/work",
			LogDir:   "/work/logs/run1",
		}
	}

	// The first array goes straight through.
	_, err := s.Submit(context.Background(), arrayReq("align-samples"))
	assert.NoError(t, err)
	assert.EQ(t, len(fake.calls), 1)

	// A second array right behind it must wait out the settle delay.
	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), arrayReq("prep-samples"))
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("array submission did not wait for the settle delay: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	mock.Add(sgeSettleDelay)
	assert.NoError(t, <-done)
	assert.EQ(t, len(fake.calls), 2)

	// Single submissions are not delayed.
	_, err = s.Submit(context.Background(), &Request{
		Stage:   "snp-list",
		Argv:    []string{"tool"},
		Workdir: "/work",
		LogDir:  "/work/logs/run1",
	})
	assert.NoError(t, err)
	assert.EQ(t, len(fake.calls), 3)

	// Enough wall-clock distance since the last array: no wait either.
	mock.Add(sgeSettleDelay)
	_, err = s.Submit(context.Background(), arrayReq("snp-pileup"))
	assert.NoError(t, err)
	assert.EQ(t, len(fake.calls), 4)
}

func TestSGEMalformedToken(t *testing.T) {
	fake := &fakeQsub{out: []string{".1-3:1"}}
	s := newTestSGE(fake, false)
	_, err := s.Submit(context.Background(), &Request{
		Stage:   "align-samples",
		Argv:    []string{"tool"},
		Samples: sample.Set{{Dir: "/d/s1"}},
		Workdir: "/work",
		LogDir:  "/logs",
	})
	assert.NotNil(t, err)
	expect.HasSubstr(t, err.Error(), "malformed qsub job id")
}
