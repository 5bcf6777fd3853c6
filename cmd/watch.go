package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/client"
	"github.com/JakeFAU/syncboard/internal/config"
	"github.com/JakeFAU/syncboard/internal/logging"
)

const clearScreen = "\033[H\033[2J"

func newWatchCmd() *cobra.Command {
	var (
		apiURL  string
		noClear bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Polls the dashboard backend and renders the fleet view",
		Long: `Checks backend health until the fact store is ready, then polls the fleet
view on a fixed interval. Type r and press enter to retry while booting, or q
to quit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if apiURL != "" {
				cfg.Client.APIURL = apiURL
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			renderer := client.NewTextRenderer(cmd.OutOrStdout())
			if !noClear {
				renderer.Clear = clearScreen
			}
			return runWatch(cmd.Context(), cfg.Client, renderer, cmd.InOrStdin(), logger)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "", "override client.api_url")
	cmd.Flags().BoolVar(&noClear, "no-clear", false, "append frames instead of clearing the screen")
	return cmd
}

func runWatch(
	ctx context.Context,
	cfg config.ClientConfig,
	renderer client.Renderer,
	in io.Reader,
	logger *zap.Logger,
) error {
	fetcher, err := client.NewHTTPFetcher(client.FetcherConfig{
		BaseURL:  cfg.APIURL,
		Timeout:  cfg.RequestTimeout,
		LogLimit: cfg.LogLimit,
	})
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	poller, err := client.NewPoller(client.Config{
		Fetcher:           fetcher,
		Renderer:          renderer,
		Logger:            logger.Named("client"),
		PollInterval:      cfg.PollInterval,
		BootRetryInterval: cfg.BootRetryInterval,
		RequestTimeout:    cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("init poller: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go readCommands(in, poller.Retry, stop)

	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// readCommands maps input lines to client actions until in is exhausted.
func readCommands(in io.Reader, retry func(), quit func()) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "r", "retry":
			retry()
		case "q", "quit":
			quit()
			return
		}
	}
}
