package executor_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupid-simple/devbackup/executor"
)

func TestOS_Execute(t *testing.T) {
	x := executor.OS{Logger: zerolog.New(zerolog.NewTestWriter(t))}

	testCases := []struct {
		name       string
		cmd        executor.Command
		wantCode   int
		wantErr    bool
		wantStdout string
		wantStderr string
	}{
		{
			name:     "success",
			cmd:      executor.Command{Name: "true"},
			wantCode: 0,
		},
		{
			name:       "exit code and output",
			cmd:        executor.Command{Name: "sh", Args: []string{"-c", "echo out; echo oops >&2; exit 3"}},
			wantCode:   3,
			wantStdout: "out\n",
			wantStderr: "oops",
		},
		{
			name:       "environment",
			cmd:        executor.Command{Name: "sh", Args: []string{"-c", "printf %s \"$DEVBACKUP_TEST\""}, Env: map[string]string{"DEVBACKUP_TEST": "value"}},
			wantStdout: "value",
		},
		{
			name:    "missing binary",
			cmd:     executor.Command{Name: "devbackup-no-such-binary"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, err := x.Execute(context.Background(), tc.cmd)
			if tc.wantErr {
				assert.Error(t, err)
				assert.False(t, status.Success())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantCode, status.Code)
			assert.Equal(t, tc.wantCode == 0, status.Success())
			if tc.wantStdout != "" {
				assert.Equal(t, tc.wantStdout, string(status.Stdout))
			}
			if tc.wantStderr != "" {
				assert.Equal(t, tc.wantStderr, status.StderrLine())
			}
		})
	}
}

func TestOS_ExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.OS{Logger: zerolog.Nop()}.Execute(ctx, executor.Command{Name: "sleep", Args: []string{"5"}})
	assert.ErrorIs(t, err, context.Canceled)
}
