package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"virtualhe/internal/models"
	"virtualhe/pkg/config"
	"virtualhe/pkg/display"
	"virtualhe/pkg/imageio"
	"virtualhe/pkg/pipeline"
)

const defaultConfigName = ".virtualhe.yaml"

// openPreview launches the viewer for --display
var openPreview display.Opener = display.SystemOpener

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "virtualhe NUCLEUS EOSIN OUTPUT",
		Short: "Generate a virtual H&E RGB image from nucleus and eosin channels",
		Long: `Converts a nuclear (hematoxylin-analog) and a cytoplasmic (eosin-analog)
fluorescence channel into an RGB image resembling an H&E stained slide,
using percentile normalization and a Beer-Lambert absorbance model.

Example:
  virtualhe nucleus.tif autof.tif output.tiff --display`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, v, args[0], args[1], args[2])
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/"+defaultConfigName+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log every processing step")
	rootCmd.Flags().BoolP("display", "d", false, "display the generated image")

	v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// VHE_CONFIG, VHE_VERBOSE; --display is read from the flag only
	v.SetEnvPrefix("VHE")
	v.AutomaticEnv()

	rootCmd.AddCommand(newConfigCmd(v))
	return rootCmd
}

// configPath resolves the config file from the flag, the environment or the
// home directory
func configPath(v *viper.Viper) (string, error) {
	if p := v.GetString("config"); p != "" {
		return homedir.Expand(p)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, defaultConfigName), nil
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	path, err := configPath(v)
	if err != nil {
		return nil, err
	}
	return config.LoadConfig(path)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runGenerate(cmd *cobra.Command, v *viper.Viper, nucleusPath, eosinPath, outputPath string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	verbose := v.GetBool("verbose") || cfg.Output.Verbose
	logger := newLogger(cmd.ErrOrStderr(), verbose)
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "================================")
	fmt.Fprintln(out, "VIRTUAL H&E FROM FLUORESCENCE CHANNELS")
	fmt.Fprintln(out, "================================")

	params := &pipeline.Params{
		NucleusPath:             nucleusPath,
		EosinPath:               eosinPath,
		OutputFile:              outputPath,
		Percentile:              cfg.Normalization.Percentile,
		Stain:                   cfg.StainParams(),
		Encoding:                imageio.Options{JPEGQuality: cfg.Output.JPEGQuality},
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         cfg.Output.IntermediaryDir,
		Logger:                  logger,
	}

	p, err := pipeline.New(params)
	if err != nil {
		return err
	}

	startTime := time.Now()
	if err := p.Process(cmd.Context()); err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	metrics := p.GetMetrics()
	fmt.Fprintf(out, "Virtual H&E image (%dx%d) saved to: %s\n", metrics.Width, metrics.Height, outputPath)
	fmt.Fprintf(out, "Processing time: %.2f seconds\n", processingTime.Seconds())
	if verbose {
		fmt.Fprintf(out, "Nucleus threshold: %.6f (%.4f%% saturated)\n",
			metrics.Nucleus.Threshold, 100*metrics.Nucleus.SaturatedFraction)
		fmt.Fprintf(out, "Eosin threshold:   %.6f (%.4f%% saturated)\n",
			metrics.Eosin.Threshold, 100*metrics.Eosin.SaturatedFraction)
		fmt.Fprintf(out, "Mean color: R=%.3f G=%.3f B=%.3f\n",
			metrics.MeanColor[models.Red], metrics.MeanColor[models.Green], metrics.MeanColor[models.Blue])
	}
	if cfg.Output.SaveIntermediaryResults {
		fmt.Fprintf(out, "Intermediary results saved to: %s\n", cfg.Output.IntermediaryDir)
	}

	show, err := cmd.Flags().GetBool("display")
	if err != nil {
		return err
	}
	if show {
		viewer := display.NewViewer(cfg.Display.MaxSize).WithOpener(openPreview)
		preview, err := viewer.Show(p.Result())
		if err != nil {
			logger.Warn("Failed to display image", "err", err)
		} else {
			logger.Debug("Opened preview", "path", preview)
		}
	}

	return nil
}
