package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/config"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/training"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/pkg/logger"
)

// main 是离线训练程序的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type trainFlags struct {
	configPath     string
	logLevel       string
	jsonReport     bool
	dataPath       string
	outputPath     string
	seed           int64
	testSize       float64
	threshold      float64
	rfTrees        int
	gbTrees        int
	gbLearningRate float64
	gbMaxDepth     int
}

func newRootCmd() *cobra.Command {
	var flags trainFlags

	cmd := &cobra.Command{
		Use:   "vitalstrain",
		Short: "Train the vitals anomaly ensemble",
		Long: `Cleans the vitals CSV, balances the classes with SMOTE, fits a soft-voting
ensemble of random forest, gradient boosting and logistic regression, prints the
test-split report and saves the model for vitalsd.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "configuration file whose training section provides defaults")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.BoolVar(&flags.jsonReport, "json", false, "print the report as JSON")
	f.StringVar(&flags.dataPath, "data", "data/Full Final.csv", "training CSV path")
	f.StringVar(&flags.outputPath, "output", "proposed_model.json.zst", "model output path (.zst enables compression)")
	f.Int64Var(&flags.seed, "seed", 42, "random seed for split, SMOTE and models")
	f.Float64Var(&flags.testSize, "test-size", 0.2, "fraction of rows held out for evaluation")
	f.Float64Var(&flags.threshold, "threshold", config.DefaultThreshold, "decision threshold stored with the model")
	f.IntVar(&flags.rfTrees, "rf-trees", 400, "random forest size")
	f.IntVar(&flags.gbTrees, "gb-trees", 300, "gradient boosting rounds")
	f.Float64Var(&flags.gbLearningRate, "gb-learning-rate", 0.05, "gradient boosting learning rate")
	f.IntVar(&flags.gbMaxDepth, "gb-max-depth", 5, "gradient boosting tree depth")
	return cmd
}

func runTrain(cmd *cobra.Command, flags trainFlags) error {
	if err := logger.Init(logger.Config{Level: flags.logLevel, Format: "text", OutputPaths: []string{"stderr"}}); err != nil {
		return err
	}
	defer logger.Sync()

	opts, err := resolveOptions(cmd, flags)
	if err != nil {
		return err
	}
	opts.Logger = logger.Named("vitalstrain")

	report, err := training.Run(cmd.Context(), opts)
	if err != nil {
		logger.L().Error("训练失败", "error", err)
		return err
	}

	out := cmd.OutOrStdout()
	if flags.jsonReport {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	_, err = fmt.Fprint(out, report.String())
	return err
}

// resolveOptions 以配置文件为底，再用显式传入的命令行参数覆盖。
func resolveOptions(cmd *cobra.Command, flags trainFlags) (training.Options, error) {
	var opts training.Options
	if flags.configPath != "" {
		cfg, err := config.Load(flags.configPath)
		if err != nil {
			return opts, err
		}
		opts = training.OptionsFromConfig(cfg.Training)
	} else {
		opts = training.Options{
			DataPath:       flags.dataPath,
			OutputPath:     flags.outputPath,
			Seed:           flags.seed,
			TestSize:       flags.testSize,
			Threshold:      flags.threshold,
			RFTrees:        flags.rfTrees,
			GBTrees:        flags.gbTrees,
			GBLearningRate: flags.gbLearningRate,
			GBMaxDepth:     flags.gbMaxDepth,
		}
	}

	changed := cmd.Flags().Changed
	if changed("data") {
		opts.DataPath = flags.dataPath
	}
	if changed("output") {
		opts.OutputPath = flags.outputPath
	}
	if changed("seed") {
		opts.Seed = flags.seed
	}
	if changed("test-size") {
		opts.TestSize = flags.testSize
	}
	if changed("threshold") {
		opts.Threshold = flags.threshold
	}
	if changed("rf-trees") {
		opts.RFTrees = flags.rfTrees
	}
	if changed("gb-trees") {
		opts.GBTrees = flags.gbTrees
	}
	if changed("gb-learning-rate") {
		opts.GBLearningRate = flags.gbLearningRate
	}
	if changed("gb-max-depth") {
		opts.GBMaxDepth = flags.gbMaxDepth
	}
	return opts, nil
}
