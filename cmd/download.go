package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/api"
	"github.com/JakeFAU/submission-downloader/internal/app"
	"github.com/JakeFAU/submission-downloader/internal/config"
	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/logging"
	"github.com/JakeFAU/submission-downloader/internal/source"
	"github.com/JakeFAU/submission-downloader/internal/worker"
)

// Runner is what the download command needs from the application.
type Runner interface {
	Run(ctx context.Context, src downloader.SubmissionSource) (worker.Summary, error)
	StatusServer() *api.Server
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

// flagBinding maps a flag name to its configuration key.
type flagBinding struct {
	flag string
	key  string
}

var downloadBindings = []flagBinding{
	{"input", "download.input"},
	{"directory", "download.directory"},
	{"concurrency", "download.concurrency"},
	{"no-dupes", "download.no_dupes"},
	{"hard-links", "download.hard_links"},
	{"search-existing", "download.search_existing"},
	{"fail-fast", "download.fail_fast"},
	{"abort-on-fatal", "download.abort_on_fatal"},
	{"max-wait", "download.max_wait_seconds"},
	{"rate", "download.rate_per_domain"},
	{"file-scheme", "download.file_scheme"},
	{"folder-scheme", "download.folder_scheme"},
	{"fs-profile", "download.fs_profile"},
	{"summary-file", "download.summary_file"},
	{"disable", "extractors.disabled"},
	{"headless", "extractors.headless"},
	{"hash-backend", "hashes.backend"},
	{"status", "server.enabled"},
	{"port", "server.port"},
	{"log-level", "logging.level"},
}

func newDownloadCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the media of every submission in a JSON-lines listing",
		Long: `Reads one submission per line from --input ("-" for stdin), filters it,
resolves its media and stores the files under --directory. A run summary is
printed when the source is exhausted or the run is interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownload(cmd, v)
		},
	}

	f := cmd.Flags()
	f.StringP("input", "i", "-", "JSON-lines submission listing")
	f.StringP("directory", "d", ".", "target directory")
	f.IntP("concurrency", "c", 1, "number of workers; 1 keeps source order")
	f.Bool("no-dupes", false, "skip content already downloaded")
	f.Bool("hard-links", false, "hard-link duplicate content to the first copy")
	f.Bool("search-existing", false, "hash files already in the target directory before starting")
	f.Bool("fail-fast", false, "retry transient failures once after a short wait")
	f.Bool("abort-on-fatal", false, "stop the run at the first fatal failure")
	f.Int("max-wait", 120, "longest wait between attempts, in seconds")
	f.Float64("rate", 2, "requests per second per domain; 0 disables the limit")
	f.String("file-scheme", "", "file name scheme, must contain {POSTID}")
	f.String("folder-scheme", "", "folder scheme")
	f.String("fs-profile", "", "filesystem naming profile: posix or windows")
	f.String("summary-file", "", "write the run summary as YAML to this path")
	f.StringSlice("disable", nil, "extractors to disable")
	f.Bool("headless", false, "enable the headless browser fallback extractor")
	f.String("hash-backend", "", "hash store backend: flat, sqlite or postgres")
	f.Bool("status", false, "serve /healthz, /metrics and /v1/summary during the run")
	f.Int("port", 8080, "status server port")
	f.String("log-level", "", "minimum log level")

	for _, b := range downloadBindings {
		if err := v.BindPFlag(b.key, f.Lookup(b.flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", b.flag, err))
		}
	}
	return cmd
}

func runDownload(cmd *cobra.Command, v *viper.Viper) (err error) {
	ctx := cmd.Context()
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	src, err := source.Open(cfg.Download.Input)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("close input failed", zap.Error(cerr))
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize downloader: %w", err)
	}
	defer func() {
		err = errors.Join(err, a.Close(ctx))
	}()

	if cfg.Server.Enabled {
		serverCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		go func() {
			if serr := a.StatusServer().Serve(serverCtx, fmt.Sprintf(":%d", cfg.Server.Port)); serr != nil {
				logger.Error("status server stopped", zap.Error(serr))
			}
		}()
	}

	summary, runErr := a.Run(ctx, src)
	if werr := summary.WriteYAML(cmd.OutOrStdout()); werr != nil {
		logger.Warn("print summary failed", zap.Error(werr))
	}
	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("interrupted: %w", runErr)
	}
	return runErr
}
