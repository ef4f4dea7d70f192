package main

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectMode(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no mode", nil, ""},
		{"log level alone is not a mode", []string{"--log-level", "DEBUG"}, ""},
		{"demo wins over batch", []string{"--batch", "2", "--demo"}, "demo"},
		{"batch zero still selects batch", []string{"--batch", "0"}, "batch"},
		{"batch over schedule", []string{"--schedule", "--batch", "1"}, "batch"},
		{"schedule over test connections", []string{"--test-connections", "--schedule"}, "schedule"},
		{"test connections over template", []string{"--create-template", "--test-connections"}, "test-connections"},
		{"create template", []string{"--create-template"}, "create-template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			bindFlags(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))
			assert.Equal(t, tt.want, selectMode(cmd))
		})
	}
}

func TestBindFlagsDefaults(t *testing.T) {
	cmd := &cobra.Command{}
	bindFlags(cmd)
	require.NoError(t, cmd.ParseFlags(nil))

	assert.Equal(t, "config/.env", envFile)
	assert.Empty(t, settingsFile)
	assert.Zero(t, batchLimit)
}

func TestExecuteReportsErrorsOnStderr(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{
		Use:           "blog-agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "CONNECTION TEST")
			return errConnectionsFailed
		},
	}
	cmd.SetArgs([]string{})
	cmd.SetOut(&stdout)

	assert.Equal(t, 1, execute(cmd, &stderr))
	assert.Equal(t, errConnectionsFailed.Error()+"\n", stderr.String())
	assert.NotContains(t, stdout.String(), errConnectionsFailed.Error())
}

func TestExecuteSuccess(t *testing.T) {
	var stderr bytes.Buffer
	cmd := &cobra.Command{RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.SetArgs([]string{})

	assert.Equal(t, 0, execute(cmd, &stderr))
	assert.Empty(t, stderr.String())
}
