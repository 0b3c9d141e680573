// Copyright (c) 2024 John Mylchreest <jmylchreest@gmail.com>
//
// This file is part of refind-btrfs-snapshots.
//
// refind-btrfs-snapshots is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// refind-btrfs-snapshots is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with refind-btrfs-snapshots. If not, see <https://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/apperrors"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/daemon"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/engine"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/persistence"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/pkgconfig"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/runner"
)

const (
	runModeOneTime    = "one-time"
	runModeBackground = "background"
)

var (
	cfgFile   string
	runMode   string
	verbosity int
	dryRun    bool
	storePath string
	lockPath  string
	logoDir   string
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// ErrNotRoot is returned when the process is not running as root, per
// spec.md §6's "refuses to continue" contract.
var ErrNotRoot = fmt.Errorf("refind-btrfs-snapshots must run as root: %w", syscall.EACCES)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "refind-btrfs-snapshots",
	Short: "Generate rEFInd boot entries for btrfs snapshots",
	Long: `Generate rEFInd boot menu entries for btrfs snapshots with automatic
ESP detection, snapshot discovery, selection, promotion, and configuration
management.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(verbosity)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an error returned by Execute to the exit code contract of
// spec.md §6: 0 success, 1 error, and EACCES-family when not running as
// root. A keyboard interrupt (130) is not computed here: it is left to
// the OS's own signal-termination convention, since one-time mode does
// not install a SIGINT handler.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case err == ErrNotRoot:
		return int(syscall.EACCES)
	default:
		return 1
	}
}

func init() {
	// Set up console logging immediately to ensure all output is formatted nicely.
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
		NoColor:    false,
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "package configuration file (default /etc/refind-btrfs-snapshots.conf)")
	rootCmd.PersistentFlags().StringVar(&runMode, "run-mode", runModeOneTime, `run mode: "one-time" or "background"`)
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v for debug, -vv for trace)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log intended changes without writing or executing them")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "/var/lib/refind-btrfs-snapshots/state.db", "path to the persisted run-state database")
	rootCmd.PersistentFlags().StringVar(&lockPath, "lock", "/run/refind-btrfs-snapshots.lock", "advisory lock file path for background run-mode")
	rootCmd.PersistentFlags().StringVar(&logoDir, "logo-dir", "/usr/share/refind-btrfs-snapshots/icons", "directory holding the bundled Btrfs logo assets")
}

func initLogging(verbosity int) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	switch {
	case verbosity >= 2:
		level = zerolog.TraceLevel
	case verbosity == 1:
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Debug().
		Str("version", getVersion()).
		Str("commit", Commit).
		Str("build_time", BuildTime).
		Str("log_level", level.String()).
		Msg("Logger initialized")
}

func getVersion() string {
	if Version != "" {
		return Version
	}
	return "dev"
}

func runRoot(cmd *cobra.Command, args []string) error {
	if os.Geteuid() != 0 {
		return ErrNotRoot
	}

	pkg, usedConfigPath, err := loadPackageConfig(cfgFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load package configuration")
		return err
	}

	deps := engine.Deps{
		Runner:     runner.New(dryRun),
		Fs:         afero.NewOsFs(),
		Store:      persistence.New(storePath),
		ConfigPath: usedConfigPath,
		LogoDir:    logoDir,
	}

	switch runMode {
	case runModeOneTime:
		return runOneTime(pkg, deps)
	case runModeBackground:
		return daemon.Run(daemon.Options{Package: pkg, Deps: deps, LockPath: lockPath})
	default:
		return fmt.Errorf("--run-mode: unknown mode %q (want %q or %q)", runMode, runModeOneTime, runModeBackground)
	}
}

func loadPackageConfig(path string) (*pkgconfig.PackageConfig, string, error) {
	v := pkgconfig.New(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, "", apperrors.PackageConfigError(path, err)
	}
	cfg, err := pkgconfig.Load(v)
	if err != nil {
		return nil, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func runOneTime(pkg *pkgconfig.PackageConfig, deps engine.Deps) error {
	result, err := engine.Run(pkg, deps)
	if err != nil {
		if apperrors.IsBenign(err) {
			log.Warn().Err(err).Msg("run ended without changes")
			return nil
		}
		log.Error().Err(err).Msg("run failed")
		return err
	}

	log.Info().
		Int("emitted_files", len(result.EmittedFiles)).
		Int("new_includes", len(result.NewIncludes)).
		Int("bootable_snapshots", len(result.Bootable)).
		Int("warnings", len(result.Warnings)).
		Msg("run completed")
	return nil
}
