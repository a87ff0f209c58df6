package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"npuprof/internal/analyzer"
	"npuprof/internal/opdesc"
	"npuprof/internal/opregistry"
	"npuprof/internal/replay"
	"npuprof/internal/service"
	"npuprof/pkg/config"
	"npuprof/pkg/hashdict"
	"npuprof/pkg/interfaces"
	"npuprof/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	configPath string

	// replay flags
	replayOut      string
	replayFormat   string
	replayChunk    int
	replayParallel bool
	replayEndInfo  bool
	replayTag      string
	replayMode     string

	// verify flags
	verifyList bool

	rootCmd = &cobra.Command{
		Use:           "npuprof",
		Short:         "Correlates accelerator profiling streams into operator descriptors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest service",
		RunE:  runServe,
	}

	replayCmd = &cobra.Command{
		Use:   "replay [dir]",
		Short: "Feed recorded stream files (one file per stream) into a fresh session",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify [file]",
		Short: "Check the signatures of a raw descriptor file",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config/config.yaml)")

	replayCmd.Flags().StringVarP(&replayOut, "out", "o", "-", "output file, - for stdout")
	replayCmd.Flags().StringVar(&replayFormat, "format", "json", "output format: json (one record per line) or raw (encoded descriptors)")
	replayCmd.Flags().IntVar(&replayChunk, "chunk-size", replay.DefaultChunkSize, "bytes per chunk")
	replayCmd.Flags().BoolVar(&replayParallel, "parallel", false, "replay streams concurrently")
	replayCmd.Flags().BoolVar(&replayEndInfo, "end-info", true, "close the session with end_info")
	replayCmd.Flags().StringVar(&replayTag, "tag", "", "classification tag for every chunk")
	replayCmd.Flags().StringVar(&replayMode, "mode", "", "force the profile mode")

	verifyCmd.Flags().BoolVarP(&verifyList, "list", "l", false, "print every descriptor")

	rootCmd.AddCommand(serveCmd, replayCmd, verifyCmd)
}

// loadConfig reads --config, falling back to CONFIG_PATH
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		if err := config.Init(); err != nil {
			return nil, err
		}
		return config.GlobalConfig, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	config.GlobalConfig = cfg
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	app := NewApplication()
	if err := app.Initialize(); err != nil {
		return fmt.Errorf("application initialization failed: %w", err)
	}
	if err := app.Start(); err != nil {
		return fmt.Errorf("application startup failed: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.InfoCtx(app.ctx, "Received exit signal: %v", sig)

	if err := app.Shutdown(30 * time.Second); err != nil {
		return fmt.Errorf("application shutdown failed: %w", err)
	}
	logger.InfoCtx(app.ctx, "Application safely exited")
	return nil
}

func runReplay(cmd *cobra.Command, args []string) (err error) {
	// replay runs without a config file unless one is given
	cfg := config.Default()
	if configPath != "" {
		if cfg, err = loadConfig(); err != nil {
			return err
		}
	}
	// stdout may carry the descriptors
	if cfg.Logger.Output == "" || cfg.Logger.Output == "console" {
		cfg.Logger.Output = "stderr"
	}
	if err := logger.InitWith(cfg.Logger); err != nil {
		return err
	}
	if replayMode != "" {
		cfg.Analyzer.ProfileMode = replayMode
	}

	out := cmd.OutOrStdout()
	if replayOut != "-" {
		f, cerr := os.Create(replayOut)
		if cerr != nil {
			return fmt.Errorf("failed to create %s: %w", replayOut, cerr)
		}
		defer func() { err = multierr.Append(err, f.Close()) }()
		out = f
	}

	registry := opregistry.New()
	var uploader interfaces.Uploader
	switch replayFormat {
	case "raw":
		uploader = service.NewDescriptorWriter(out)
	case "json":
		uploader = service.NewDescriptorService(registry, service.NewJSONLinesSink(out))
	default:
		return fmt.Errorf("unknown format %q", replayFormat)
	}

	opts, err := analyzer.OptionsFromConfig(cfg.Analyzer)
	if err != nil {
		return err
	}
	dict := hashdict.New()
	a, err := analyzer.New(opts, analyzer.Deps{Uploader: uploader, Lookup: dict, Registrar: dict, Registry: registry})
	if err != nil {
		return err
	}

	streams, err := replay.Discover(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := replay.Run(ctx, a, streams, replay.Options{
		ChunkSize: replayChunk,
		Parallel:  replayParallel,
		EndInfo:   replayEndInfo,
		Tag:       replayTag,
	})
	a.LogStats(ctx)
	if ferr := a.Flush(ctx); ferr != nil {
		err = multierr.Append(err, ferr)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d streams, %d chunks, %d bytes, %d rejected; %d descriptors\n",
		res.Streams, res.Chunks, res.Bytes, res.Errors, a.ResultCount())
	return err
}

func runVerify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	descs, err := opdesc.DecodeAll(data)
	out := cmd.OutOrStdout()
	if verifyList {
		for i, d := range descs {
			fmt.Fprintf(out, "%d\tmodel=%d thread=%d flag=%d index=%d start=%d end=%d duration=%d device=%d\n",
				i, d.ModelID, d.ThreadID, d.Flag, d.OpIndex, d.Start, d.End, d.Duration, d.DeviceID)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %d valid descriptors before failure: %w", args[0], len(descs), err)
	}
	fmt.Fprintf(out, "%s: %d descriptors, all signatures valid\n", args[0], len(descs))
	return nil
}
