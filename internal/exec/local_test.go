package exec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagerunner/internal/pipeline"
)

func TestLocal_CapturesOutputAndExitCode(t *testing.T) {
	l := NewLocal(t.TempDir())

	res, err := l.ExecuteStep(context.Background(),
		pipeline.Step{Name: "echo", Run: "echo hello; echo oops >&2"},
		JobContext{RunID: "r1", Stage: "test", JobID: "test"})
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Equal(t, "oops\n", string(res.Stderr))
}

func TestLocal_NonZeroExitIsNotAnError(t *testing.T) {
	l := NewLocal(t.TempDir())

	res, err := l.ExecuteStep(context.Background(),
		pipeline.Step{Name: "fail", Run: "exit 3"},
		JobContext{JobID: "test"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestLocal_EnvAllowlist(t *testing.T) {
	t.Setenv("LEAKY_HOST_VAR", "secret")
	l := NewLocal(t.TempDir())

	res, err := l.ExecuteStep(context.Background(),
		pipeline.Step{Name: "env", Run: "env", Env: map[string]string{"CUSTOM": "yes"}},
		JobContext{
			RunID:      "run-1",
			Stage:      "build",
			JobID:      "build[os=linux]",
			Assignment: map[string]string{"os": "linux"},
		})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)

	out := string(res.Stdout)
	assert.Contains(t, out, "CUSTOM=yes")
	assert.Contains(t, out, "STAGERUNNER_RUN_ID=run-1")
	assert.Contains(t, out, "STAGERUNNER_STAGE=build")
	assert.Contains(t, out, "STAGERUNNER_JOB=build[os=linux]")
	assert.Contains(t, out, "STAGERUNNER_MATRIX_OS=linux")
	assert.NotContains(t, out, "LEAKY_HOST_VAR")
}

func TestLocal_HarvestsDeclaredOutputs(t *testing.T) {
	l := NewLocal(t.TempDir())

	res, err := l.ExecuteStep(context.Background(),
		pipeline.Step{Name: "build", Run: "mkdir -p dist && printf binarybytes > dist/app"},
		JobContext{JobID: "build", Outputs: map[string]string{"binary": "dist/app"}})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)

	require.Contains(t, res.Harvested, "binary")
	assert.Equal(t, "binarybytes", string(res.Harvested["binary"]))
}

func TestLocal_MissingOutputFileTolerated(t *testing.T) {
	l := NewLocal(t.TempDir())

	res, err := l.ExecuteStep(context.Background(),
		pipeline.Step{Name: "noop", Run: "true"},
		JobContext{JobID: "build", Outputs: map[string]string{"binary": "dist/app"}})
	require.NoError(t, err)
	assert.NotContains(t, res.Harvested, "binary")
}

func TestLocal_NoHarvestOnFailure(t *testing.T) {
	l := NewLocal(t.TempDir())

	res, err := l.ExecuteStep(context.Background(),
		pipeline.Step{Name: "halfway", Run: "printf partial > out.bin; exit 1"},
		JobContext{JobID: "build", Outputs: map[string]string{"out": "out.bin"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Nil(t, res.Harvested)
}

func TestLocal_CancellationKillsProcess(t *testing.T) {
	l := NewLocal(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := l.ExecuteStep(ctx,
		pipeline.Step{Name: "hang", Run: "sleep 30"},
		JobContext{JobID: "test"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "cancelled"), "error: %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLocal_EmptyRunRejected(t *testing.T) {
	l := NewLocal(t.TempDir())
	_, err := l.ExecuteStep(context.Background(), pipeline.Step{Name: "empty"}, JobContext{})
	require.Error(t, err)
}
