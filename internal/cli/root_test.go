package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rabiRecipe = `
name: rabi
parameters:
  mw_amplitude: 0.25
  mw_frequency: 2.87e9
  tau_start: 8.0e-9
  tau_step: 8.0e-9
  num_of_points: 3
  laser_length: 3.0e-6
sample_rate_hz: 1.25e9
channels: [a_ch1, d_ch1]
blocks:
  - name: rabi
    elements:
      - length: tau_start
        increment: tau_step
        tick: true
        analog:
          a_ch1: {name: Sin, params: {amplitude: mw_amplitude, frequency: mw_frequency}}
        digital: {d_ch1: false}
      - length: laser_length
        analog:
          a_ch1: {name: Idle}
        digital: {d_ch1: true}
ensemble:
  steps:
    - block: rabi
      repetitions: num_of_points - 1
sequence:
  steps:
    - repetitions: 1
      wait_for: 0
`

const testConfig = `
logging:
  level: error
sampling:
  gating_channel: d_ch1
recipes:
  dirs: [recipes]
`

// writeFixture lays out a configuration with one recipe directory and
// returns the configuration path.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "recipes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recipes", "rabi.yaml"), []byte(rabiRecipe), 0o600))
	path := filepath.Join(dir, "pulsed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "pulsed", cmd.Use)
	assert.Contains(t, cmd.Long, "AWG")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"validate"}, {"list"}, {"info"}, {"sample"}, {"simulate"},
		{"recipe"}, {"recipe", "list"}, {"recipe", "import"},
		{"block"}, {"block", "show"}, {"block", "set"},
		{"export"}, {"watch"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)

	libraryFlag := cmd.PersistentFlags().Lookup("library")
	require.NotNil(t, libraryFlag)
	assert.Equal(t, "l", libraryFlag.Shorthand)
}

func TestSampleCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	sampleCmd, _, err := cmd.Find([]string{"sample"})
	require.NoError(t, err)

	outFlag := sampleCmd.Flags().Lookup("out")
	require.NotNil(t, outFlag)
	assert.Equal(t, "o", outFlag.Shorthand)

	seqFlag := sampleCmd.Flags().Lookup("sequence")
	require.NotNil(t, seqFlag)
	assert.Equal(t, "false", seqFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}
