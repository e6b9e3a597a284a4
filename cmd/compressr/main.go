package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"compressr-go/internal/batch"
	"compressr-go/internal/compressor"
	"compressr-go/internal/config"
	"compressr-go/internal/logger"
	"compressr-go/internal/metadata"
	"compressr-go/internal/statistics"
	"compressr-go/internal/web"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	version = "dev"

	output           string
	quality          int
	format           string
	scale            int
	width            int
	height           int
	maxWidth         int
	maxHeight        int
	threads          int
	deleteOriginal   bool
	preserveMetadata bool

	port int
	host string
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	subtle = color.New(color.FgHiBlack).SprintFunc()
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:     "compressr",
	Short:   "Batch image compressor and converter",
	Version: version,
	Long: `compressr compresses and converts images in parallel.

Features:
- JPEG, PNG, GIF and lossless WebP output
- Reads JPEG, PNG, GIF, BMP, TIFF and WebP rasters plus SVG documents
- Percentage scaling, exact dimensions or bounding-box resize (Lanczos)
- Recursive directory input with a bounded worker pool
- Optional EXIF carry-over and deletion of originals after success`,
	SilenceUsage: true,
}

// compressCmd compresses files and directories.
var compressCmd = &cobra.Command{
	Use:   "compress <input>...",
	Short: "Compress images into a file or directory",
	Long: `Compress one or more images. Directories are walked recursively.

With a single input file, --output may name the output file. Without
--output the result is written next to the input as <name>_compressed.jpg.
With several files --output must be an existing directory; every result is
written there as <name>_compressed.<ext>.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// listCmd prints the images a directory batch would pick up.
var listCmd = &cobra.Command{
	Use:   "list <directory>",
	Short: "List supported images under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(args[0])
	},
}

// cpusCmd prints the default worker count.
var cpusCmd = &cobra.Command{
	Use:   "cpus",
	Short: "Show available parallelism",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(batch.AvailableParallelism())
	},
}

// exifCmd shows the EXIF tags that --preserve-metadata would carry over.
var exifCmd = &cobra.Command{
	Use:   "exif <file>",
	Short: "Show the EXIF tags carried over by --preserve-metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExif(args[0])
	},
}

// serveCmd starts the web API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP/WebSocket API",
	Long: `Starts an HTTP server that accepts compression batches on
POST /api/compress and streams per-file progress over /ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	f := compressCmd.Flags()
	f.StringVarP(&output, "output", "o", "", "output file (single input) or existing directory")
	f.IntVarP(&quality, "quality", "q", 100, "encoder quality 0-100 (JPEG only)")
	f.StringVarP(&format, "format", "f", "jpeg", "output format: jpeg, png, gif, webp")
	f.IntVar(&scale, "scale", 100, "scale percentage")
	f.IntVar(&width, "width", 0, "exact output width (requires --height)")
	f.IntVar(&height, "height", 0, "exact output height (requires --width)")
	f.IntVar(&maxWidth, "max-width", 0, "shrink to fit this width, keeping aspect ratio")
	f.IntVar(&maxHeight, "max-height", 0, "shrink to fit this height, keeping aspect ratio")
	f.IntVarP(&threads, "threads", "j", 0, "worker count (0 = all CPUs)")
	f.BoolVar(&deleteOriginal, "delete-original", false, "delete each input after its output is written")
	f.BoolVar(&preserveMetadata, "preserve-metadata", false, "copy EXIF tags into JPEG outputs (needs exiftool)")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")
	serveCmd.Flags().StringVar(&host, "host", "localhost", "interface to bind")

	rootCmd.AddCommand(compressCmd, listCmd, cpusCmd, exifCmd, serveCmd)
}

// runCompress resolves the request from config and flags and runs it.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	proc, copier := newCompressor(cfg, log)
	defer closeCopier(copier, log)
	runner := batch.NewRunner(log, proc, batch.WithStatistics(stats))

	req := batch.Request{
		Inputs:           args,
		Output:           output,
		Quality:          cfg.Compression.Quality,
		Format:           cfg.OutputFormat(),
		Resize:           cfg.ResizePolicy(),
		Threads:          cfg.Compression.Threads,
		DeleteOriginal:   cfg.Compression.DeleteOriginal,
		PreserveMetadata: cfg.Compression.PreserveMetadata,
	}
	if req.Output == "" && len(args) == 1 && fileExists(args[0]) {
		req.Output = compressor.DefaultOutputPath(args[0])
		if req.Format != compressor.JPEG {
			req.Output = filepath.Join(filepath.Dir(args[0]), compressor.OutputName(args[0], req.Format))
		}
	}

	report, err := runner.Run(req)
	if err != nil {
		return err
	}

	if !quiet {
		printReport(report, stats)
	}
	if failed := len(report.Failures()); failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(report.Outcomes))
	}
	return nil
}

// applyFlags lets explicitly set flags override config values.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	cc := &cfg.Compression
	if flags.Changed("quality") {
		cc.Quality = quality
	}
	if flags.Changed("format") {
		cc.Format = format
	}
	if flags.Changed("scale") {
		cc.ScalePercent = scale
	}
	if flags.Changed("width") {
		cc.Width = width
	}
	if flags.Changed("height") {
		cc.Height = height
	}
	if flags.Changed("max-width") {
		cc.MaxWidth = maxWidth
	}
	if flags.Changed("max-height") {
		cc.MaxHeight = maxHeight
	}
	if flags.Changed("threads") {
		cc.Threads = threads
	}
	if flags.Changed("delete-original") {
		cc.DeleteOriginal = deleteOriginal
	}
	if flags.Changed("preserve-metadata") {
		cc.PreserveMetadata = preserveMetadata
	}
}

func printReport(report *batch.BatchReport, stats *statistics.Statistics) {
	outcomes := append([]batch.FileOutcome(nil), report.Outcomes...)
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].InputPath < outcomes[j].InputPath })

	for _, o := range outcomes {
		if o.Success() {
			fmt.Printf("%s %s %s %s\n", green("✓"), o.InputPath, subtle("→"), o.OutputPath)
			continue
		}
		fmt.Printf("%s %s %s\n", red("✗"), o.InputPath, yellow(o.Err.Error()))
	}

	if len(outcomes) == 0 {
		fmt.Println(yellow("No images found."))
		return
	}
	fmt.Println("\n" + bold(stats.GetSummary()))
	if len(report.Failures()) > 0 {
		fmt.Println("\n" + red(stats.GetErrorSummary()))
	}
}

// runList prints every image a directory batch would process.
func runList(dir string) error {
	images, err := batch.ListImages(dir)
	if err != nil {
		return err
	}
	for _, img := range images {
		fmt.Println(img)
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "%s\n", subtle(fmt.Sprintf("%d images", len(images))))
	}
	return nil
}

// runExif prints the carried-over EXIF tags of a file.
func runExif(path string) error {
	if !fileExists(path) {
		return fmt.Errorf("file does not exist: %s", path)
	}

	tags, err := metadata.Read(path)
	if err != nil {
		fmt.Printf("%s %v\n", yellow("No EXIF data:"), err)
		return nil
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %s\n", bold(k), tags[k])
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = host
	}

	log := setupLogger(cfg)
	proc, copier := newCompressor(cfg, log)
	defer closeCopier(copier, log)
	server := web.NewServer(cfg, log, proc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Host, cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("%s http://%s:%d\n", green("compressr API listening on"), cfg.Server.Host, cfg.Server.Port)
	fmt.Println(subtle("Press Ctrl+C to stop the server"))

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println(green("Server stopped gracefully"))
	return nil
}

// newCompressor wires the exiftool copier and the jpegtran setting. The
// caller owns the copier and closes it when the command ends.
func newCompressor(cfg *config.Config, log *logrus.Logger) (*compressor.DefaultCompressor, *metadata.ExiftoolCopier) {
	copier := metadata.NewExiftoolCopier(log)
	opts := []compressor.Option{
		compressor.WithMetadataCopier(copier),
	}
	switch {
	case cfg.JPEGOptimizerDisabled():
		opts = append(opts, compressor.WithJPEGOptimizer(""))
	case cfg.Compression.JPEGOptimizer != "":
		opts = append(opts, compressor.WithJPEGOptimizer(cfg.Compression.JPEGOptimizer))
	}
	return compressor.NewDefaultCompressor(log, opts...), copier
}

func closeCopier(c *metadata.ExiftoolCopier, log *logrus.Logger) {
	if err := c.Close(); err != nil {
		log.WithError(err).Warn("Failed to stop exiftool")
	}
}

// setupLogger configures and returns a logger. Console logs are off unless
// --verbose is given since stdout carries results.
func setupLogger(cfg *config.Config) *logrus.Logger {
	log, err := logger.NewLogger(logger.Options{
		Level: logger.Level(cfg.Logging.Level, verbose, quiet),
		File: logger.Rotation{
			Path:       cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		},
		Console: verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "LOGGER SETUP ERROR: %v\n", err)
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}
