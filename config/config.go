// Package config holds the run configuration: local concurrency, scheduler
// submission extras, per-stage resource overrides, and the extra-parameter
// strings forwarded to the external tools.
//
// Every value has a built-in default; a TOML file given with -config merges
// over the defaults. Unknown keys are rejected so a typo cannot silently
// fall back to a default.
package config

import (
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/rlpires/snp-pipeline/stage"
)

// Resources are the scheduler resource hints of one stage. A zero field
// leaves the stage table's default in place.
type Resources struct {
	Threads  int    `toml:"threads"`
	Walltime string `toml:"walltime"`
}

// Config is the run configuration.
type Config struct {
	// MaxLocalJobs bounds the local backend's concurrency. The effective
	// bound is min(MaxLocalJobs, runtime.NumCPU()); 0 means NumCPU.
	MaxLocalJobs int `toml:"max_local_jobs"`
	// QsubExtraArgs is appended to every scheduler submission, split into
	// words with shell quoting rules (queue selection and the like).
	QsubExtraArgs string `toml:"qsub_extra_args"`
	// PerIndexDeps opts in to element-wise array dependencies on edges
	// where each task only needs its own predecessor task. Only the SGE
	// backend supports it; the default keeps whole-array barriers.
	PerIndexDeps bool `toml:"per_index_deps"`
	// Resources overrides the stage table's resource hints, keyed by
	// stage name.
	Resources map[string]Resources `toml:"resources"`
	// ExtraParams carries per-stage extra-parameter strings, exported to
	// each tool through its <STAGE>_EXTRA_PARAMS environment variable.
	ExtraParams map[string]string `toml:"extra_params"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxLocalJobs: 0,
		Resources:    map[string]Resources{},
		ExtraParams:  map[string]string{},
	}
}

// Load merges the TOML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, item := range undecoded {
			keys[i] = item.String()
		}
		return nil, errors.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := c.validate(); err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}
	return c, nil
}

var walltimeRE = regexp.MustCompile(`^\d{1,3}:\d{2}:\d{2}$`)

func (c *Config) validate() error {
	if c.MaxLocalJobs < 0 {
		return errors.Errorf("max_local_jobs must be >= 0, got %d", c.MaxLocalJobs)
	}
	if _, err := c.QsubArgv(); err != nil {
		return err
	}
	known := make(map[string]bool)
	for _, name := range stage.Names() {
		known[name] = true
	}
	for name, res := range c.Resources {
		if !known[name] {
			return errors.Errorf("resources.%s: unknown stage", name)
		}
		if res.Threads < 0 {
			return errors.Errorf("resources.%s: threads must be >= 0", name)
		}
		if res.Walltime != "" && !walltimeRE.MatchString(res.Walltime) {
			return errors.Errorf("resources.%s: walltime %q is not HH:MM:SS", name, res.Walltime)
		}
	}
	for name := range c.ExtraParams {
		if !known[name] {
			return errors.Errorf("extra_params.%s: unknown stage", name)
		}
	}
	return nil
}

// QsubArgv splits QsubExtraArgs into argv words.
func (c *Config) QsubArgv() ([]string, error) {
	if c.QsubExtraArgs == "" {
		return nil, nil
	}
	argv, err := shlex.Split(c.QsubExtraArgs)
	if err != nil {
		return nil, errors.Wrapf(err, "qsub_extra_args %q", c.QsubExtraArgs)
	}
	return argv, nil
}

// ResourcesFor returns the stage's resource hints with any configured
// overrides applied.
func (c *Config) ResourcesFor(s stage.Stage) Resources {
	res := Resources{Threads: s.Threads, Walltime: s.Walltime}
	o, ok := c.Resources[s.Name]
	if !ok {
		return res
	}
	if o.Threads > 0 {
		res.Threads = o.Threads
	}
	if o.Walltime != "" {
		res.Walltime = o.Walltime
	}
	return res
}

// Env renders the configured extra-parameter strings as KEY=VALUE
// environment entries for the given stage, empty when none are configured.
func (c *Config) Env(s stage.Stage) []string {
	v, ok := c.ExtraParams[s.Name]
	if !ok || v == "" {
		return nil
	}
	return []string{s.EnvName() + "=" + v}
}
