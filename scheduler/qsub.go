package scheduler

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// qsubFunc invokes a scheduler's submission binary with the job script on
// stdin and returns the first line of its output, the raw job token.
// Backends hold it as a field so tests can capture submissions without a
// live scheduler.
type qsubFunc func(ctx context.Context, path string, argv []string, script string) (string, error)

// findQsub resolves the qsub binary before any submission is attempted, so
// a run on a host without the scheduler fails during backend construction
// rather than at the first stage.
func findQsub() (string, error) {
	path, err := lookpath.Look(envvar.SliceToMap(os.Environ()), "qsub")
	if err != nil {
		return "", errors.Wrap(err, "qsub not found in PATH")
	}
	return path, nil
}

func runQsub(ctx context.Context, path string, argv []string, script string) (string, error) {
	cmd := exec.CommandContext(ctx, path, argv...)
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", errors.Errorf("qsub: %s", msg)
	}
	line, _, _ := strings.Cut(stdout.String(), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("qsub returned no job id")
	}
	return line, nil
}
