package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	oexec "os/exec"
	"path/filepath"
	"sort"
	"syscall"

	"stagerunner/internal/pipeline"
)

// Local runs steps as shell commands inside WorkDir.
//
// Environment isolation is an allowlist: the command sees only the step's
// declared env plus the engine-provided job variables. Host environment
// variables are never passed through, so a step cannot observe state the
// declaration does not name.
type Local struct {
	WorkDir string
}

// NewLocal creates a Local executor rooted at workDir.
func NewLocal(workDir string) *Local {
	return &Local{WorkDir: workDir}
}

// ExecuteStep runs the step with "sh -c" and harvests declared outputs on
// success. On cancellation the whole process group is killed.
func (l *Local) ExecuteStep(ctx context.Context, step pipeline.Step, jc JobContext) (*StepResult, error) {
	if step.Run == "" {
		return nil, fmt.Errorf("step %q has no run command", step.Name)
	}

	cmd := oexec.CommandContext(ctx, "sh", "-c", step.Run)
	cmd.Dir = l.WorkDir
	cmd.Env = buildEnv(step, jc)
	// Own process group so cancellation kills the full process tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start step %q: %w", step.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("step %q cancelled: %w", step.Name, ctx.Err())
	case waitErr = <-done:
	}

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*oexec.ExitError)
		if !ok {
			return nil, fmt.Errorf("run step %q: %w", step.Name, waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	res := &StepResult{
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}
	if exitCode == 0 {
		harvested, err := l.harvest(jc.Outputs)
		if err != nil {
			return nil, err
		}
		res.Harvested = harvested
	}
	return res, nil
}

// harvest reads the declared output files that exist after the step. A
// missing file is not an error here: an earlier step may legitimately not
// yet have produced it, and the publish path reports unproduced artifacts.
func (l *Local) harvest(outputs map[string]string) (map[string][]byte, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	harvested := make(map[string][]byte, len(outputs))
	for name, rel := range outputs {
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.WorkDir, rel)
		}
		blob, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("harvest artifact %q from %s: %w", name, path, err)
		}
		harvested[name] = blob
	}
	return harvested, nil
}

// buildEnv assembles the allowlist environment: declared step env plus the
// job identity and matrix assignment under STAGERUNNER_* names.
func buildEnv(step pipeline.Step, jc JobContext) []string {
	env := make([]string, 0, len(step.Env)+len(jc.Assignment)+3)

	keys := make([]string, 0, len(step.Env))
	for k := range step.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+step.Env[k])
	}

	env = append(env,
		"STAGERUNNER_RUN_ID="+jc.RunID,
		"STAGERUNNER_STAGE="+jc.Stage,
		"STAGERUNNER_JOB="+jc.JobID,
	)
	axes := make([]string, 0, len(jc.Assignment))
	for axis := range jc.Assignment {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	for _, axis := range axes {
		env = append(env, "STAGERUNNER_MATRIX_"+envName(axis)+"="+jc.Assignment[axis])
	}
	return env
}

func envName(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - ('a' - 'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
