package stage_test

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/rlpires/snp-pipeline/stage"
)

func TestPipelineTable(t *testing.T) {
	stages := stage.Pipeline()
	assert.EQ(t, len(stages), 9)

	wantOrder := []string{
		stage.PrepReference,
		stage.AlignSamples,
		stage.PrepSamples,
		stage.SNPList,
		stage.SNPPileup,
		stage.SNPMatrix,
		stage.SNPReference,
		stage.CollectMetrics,
		stage.CombineMetrics,
	}
	expect.EQ(t, stage.Names(), wantOrder)

	perSample := map[string]bool{
		stage.AlignSamples:   true,
		stage.PrepSamples:    true,
		stage.SNPPileup:      true,
		stage.CollectMetrics: true,
	}
	for _, s := range stages {
		expect.EQ(t, s.Cardinality == stage.PerSample, perSample[s.Name], s.Name)
		expect.True(t, s.Tool != "", s.Name)
		expect.GE(t, s.Threads, 1, s.Name)
		expect.True(t, s.Walltime != "", s.Name)
	}

	deps := make(map[string][]string, len(stages))
	for _, s := range stages {
		deps[s.Name] = s.After
	}
	expect.EQ(t, deps[stage.PrepReference], []string(nil))
	expect.EQ(t, deps[stage.AlignSamples], []string{stage.PrepReference})
	expect.EQ(t, deps[stage.PrepSamples], []string{stage.AlignSamples})
	expect.EQ(t, deps[stage.SNPList], []string{stage.PrepSamples})
	expect.EQ(t, deps[stage.SNPPileup], []string{stage.SNPList})
	expect.EQ(t, deps[stage.SNPMatrix], []string{stage.SNPPileup})
	expect.EQ(t, deps[stage.SNPReference], []string{stage.SNPPileup})
	expect.EQ(t, deps[stage.CollectMetrics], []string{stage.SNPMatrix})
	expect.EQ(t, deps[stage.CombineMetrics], []string{stage.CollectMetrics})
}

func TestExecutionOrderMatchesTable(t *testing.T) {
	ordered, err := stage.ExecutionOrder(stage.Pipeline())
	assert.NoError(t, err)
	names := make([]string, len(ordered))
	for i, s := range ordered {
		names[i] = s.Name
	}
	expect.EQ(t, names, stage.Names())
}

func TestExecutionOrderRejectsBadTables(t *testing.T) {
	tests := []struct {
		name   string
		stages []stage.Stage
		err    string
	}{
		{
			"unknown predecessor",
			[]stage.Stage{
				{Name: "a"},
				{Name: "b", After: []string{"nope"}},
			},
			"unknown stage nope",
		},
		{
			"cycle",
			[]stage.Stage{
				{Name: "a", After: []string{"c"}},
				{Name: "b", After: []string{"a"}},
				{Name: "c", After: []string{"b"}},
			},
			"cycle",
		},
		{
			"two roots",
			[]stage.Stage{
				{Name: "a"},
				{Name: "b"},
				{Name: "c", After: []string{"a", "b"}},
			},
			"exactly one root",
		},
		{
			"duplicate stage",
			[]stage.Stage{
				{Name: "a"},
				{Name: "a"},
			},
			"defined twice",
		},
	}
	for _, tt := range tests {
		_, err := stage.ExecutionOrder(tt.stages)
		assert.NotNil(t, err, tt.name)
		expect.HasSubstr(t, err.Error(), tt.err, tt.name)
	}
}

func TestRender(t *testing.T) {
	in := stage.Inputs{
		Reference: "/work/reference/ref.fasta",
		ListPath:  "/work/sample_dirs.txt",
		Workdir:   "/work",
	}
	var byName = make(map[string]stage.Stage)
	for _, s := range stage.Pipeline() {
		byName[s.Name] = s
	}

	expect.EQ(t, byName[stage.PrepReference].Render(in),
		[]string{"snp-prep-reference", "/work/reference/ref.fasta"})
	expect.EQ(t, byName[stage.AlignSamples].Render(in),
		[]string{"snp-align-sample", "/work/reference/ref.fasta"})
	expect.EQ(t, byName[stage.SNPList].Render(in),
		[]string{"snp-list", "-o", "/work/snplist.txt", "/work/sample_dirs.txt"})
	expect.EQ(t, byName[stage.SNPMatrix].Render(in),
		[]string{"snp-matrix", "-l", "/work/snplist.txt", "-o", "/work/snpma.tsv", "/work/sample_dirs.txt"})

	in.Force = true
	argv := byName[stage.SNPPileup].Render(in)
	expect.EQ(t, argv[0], "snp-pileup")
	expect.EQ(t, argv[1], "-f")

	// No placeholder may survive rendering.
	for _, s := range stage.Pipeline() {
		for _, arg := range s.Render(in) {
			expect.False(t, strings.Contains(arg, "{"), "stage %s arg %q", s.Name, arg)
		}
	}
}

func TestEnvName(t *testing.T) {
	tests := []struct{ stageName, want string }{
		{stage.PrepReference, "PREP_REFERENCE_EXTRA_PARAMS"},
		{stage.AlignSamples, "ALIGN_SAMPLES_EXTRA_PARAMS"},
		{stage.SNPPileup, "SNP_PILEUP_EXTRA_PARAMS"},
	}
	for _, tt := range tests {
		expect.EQ(t, stage.Stage{Name: tt.stageName}.EnvName(), tt.want)
	}
}
