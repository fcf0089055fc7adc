package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mycok/blockrank/pagerank"
)

const (
	appName = "blockrank"
	appSHA  = "compiled-and-deployed-at"
)

func main() {
	host, _ := os.Hostname()
	// Instantiate a root logger that is shared by every component.
	rootLogger := logrus.New()
	logger := rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"SHA":  appSHA,
		"host": host,
	})

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	// Abort the run on SIGINT / SIGHUP; every stage shares this context.
	go func() {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, syscall.SIGINT, syscall.SIGHUP)

		select {
		case s := <-signalChan:
			logger.WithField("signal", s.String()).Info("aborting run due to os signal")
			cancelFn()
		case <-ctx.Done():
		}
	}()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		logger.WithField("err", err).Error("shutting down due to an error")
		cancelFn()
		os.Exit(1)
	}
}

func newRootCmd(logger *logrus.Entry) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   appName + " [flags] <edges.tsv> <output.tsv>",
		Short: "Compute PageRank scores for a tab separated edge list",
		Args:  cobra.ExactArgs(2),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, logger, args[0], args[1])
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.String("config", "", "config file (default .blockrank.yaml)")
	flags.Int("divisions", 2, "Number of blocks the page ID space is split into")
	flags.Float64("epsilon", 1e-5, "Sum of absolute differences below which the scores are considered converged")
	flags.Float64("teleportation-rate", 0.15, "Probability of jumping to a random page instead of following a link")
	flags.Int("max-iterations", 300, "Maximum number of iterations to run before giving up on convergence")
	flags.Int("workers", runtime.NumCPU(), "Number of map and reduce tasks to run concurrently")
	flags.String(
		"store", "in-memory://",
		"URI of the store that holds intermediate datasets."+
			" [supported URI's: in-memory://, file:///absolute/path]",
	)
	flags.Bool("compress", false, "Compress dataset parts written to a file store")
	flags.Bool("verbose", false, "Log every iteration")

	return cmd
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("." + appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BLOCKRANK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; flags and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || v.GetString("config") != "" {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	return nil
}

func run(ctx context.Context, v *viper.Viper, logger *logrus.Entry, inputPath, outputPath string) error {
	if v.GetBool("verbose") {
		logger.Logger.SetLevel(logrus.DebugLevel)
	}

	if divisions := v.GetInt("divisions"); divisions <= 0 {
		return fmt.Errorf("invalid value for divisions %d, must be > 0", divisions)
	}

	// A zero value would silently select the calculator defaults.
	if epsilon := v.GetFloat64("epsilon"); epsilon <= 0 {
		return fmt.Errorf("invalid value for epsilon %g, must be > 0", epsilon)
	}

	if rate := v.GetFloat64("teleportation-rate"); rate <= 0 || rate >= 1 {
		return fmt.Errorf("invalid value for teleportation-rate %g, must be in (0, 1)", rate)
	}

	input, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening edge list: %w", err)
	}
	defer func() { _ = input.Close() }()

	store, err := getStore(v.GetString("store"), v.GetBool("compress"), logger)
	if err != nil {
		return err
	}

	calc, err := pagerank.NewCalculator(pagerank.Config{
		Store:             store,
		Divisions:         v.GetInt("divisions"),
		Epsilon:           v.GetFloat64("epsilon"),
		TeleportationRate: v.GetFloat64("teleportation-rate"),
		MaxIterations:     v.GetInt("max-iterations"),
		Workers:           v.GetInt("workers"),
		Logger:            logger.WithField("component", "page-rank-calculator"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := calc.Close(); err != nil {
			logger.WithField("err", err).Warn("unable to remove run workspace")
		}
	}()

	res, err := calc.Calculate(ctx, input)
	if err != nil {
		return err
	}

	output, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating score file: %w", err)
	}

	if err = calc.WriteScores(output); err != nil {
		_ = output.Close()

		return fmt.Errorf("writing scores: %w", err)
	}

	if err = output.Close(); err != nil {
		return fmt.Errorf("writing scores: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"pages":      res.NumPages,
		"iterations": res.Iterations,
		"converged":  res.Converged,
		"output":     outputPath,
	}).Info("wrote PageRank scores")

	return nil
}
