package cmd

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogging(t *testing.T) {
	tests := []struct {
		name      string
		verbosity int
		expected  zerolog.Level
	}{
		{"default_is_info", 0, zerolog.InfoLevel},
		{"one_v_is_debug", 1, zerolog.DebugLevel},
		{"two_v_is_trace", 2, zerolog.TraceLevel},
		{"three_v_stays_trace", 3, zerolog.TraceLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initLogging(tt.verbosity)
			assert.Equal(t, tt.expected, zerolog.GlobalLevel())
		})
	}
}

func TestGetVersion(t *testing.T) {
	tests := []struct {
		name         string
		versionValue string
		expected     string
	}{
		{"version_set", "1.2.3", "1.2.3"},
		{"version_empty", "", "dev"},
		{"version_dev", "dev", "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			originalVersion := Version
			Version = tt.versionValue

			result := getVersion()
			assert.Equal(t, tt.expected, result)

			Version = originalVersion
		})
	}
}

func TestExecute(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	os.Args = []string{"test", "--help"}

	assert.NotPanics(t, func() {
		Execute()
	})
}

func TestRootCmdConfiguration(t *testing.T) {
	require.NotNil(t, rootCmd)

	assert.Equal(t, "refind-btrfs-snapshots", rootCmd.Use)
	assert.Equal(t, "Generate rEFInd boot entries for btrfs snapshots", rootCmd.Short)
	assert.Contains(t, rootCmd.Long, "Generate rEFInd boot menu entries for btrfs snapshots")

	configFlag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)

	runModeFlag := rootCmd.PersistentFlags().Lookup("run-mode")
	require.NotNil(t, runModeFlag)
	assert.Equal(t, runModeOneTime, runModeFlag.DefValue)

	verboseFlag := rootCmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	dryRunFlag := rootCmd.PersistentFlags().Lookup("dry-run")
	require.NotNil(t, dryRunFlag)
	assert.Equal(t, "false", dryRunFlag.DefValue)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil_is_success", nil, 0},
		{"not_root_is_eacces", ErrNotRoot, 13},
		{"other_error_is_one", assert.AnError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitCode(tt.err))
		})
	}
}

func TestRunRootUnknownRunMode(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root to reach the --run-mode validation")
	}
}
