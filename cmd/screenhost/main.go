package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/screenhost/internal/config"
	"github.com/breeze-rmm/screenhost/internal/httputil"
	"github.com/breeze-rmm/screenhost/internal/logging"
	"github.com/breeze-rmm/screenhost/internal/remote/desktop"
	"github.com/breeze-rmm/screenhost/internal/server"
)

var (
	version   = "0.1.0"
	cfgFile   string
	serverURL string
	authToken string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:           "screenhost",
	Short:         "Screen sharing host",
	Long:          `screenhost streams this machine's screens to remote viewers and replays their input`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the screen host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var screensCmd = &cobra.Command{
	Use:   "screens",
	Short: "List screens on this machine, or on a running host with --server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serverURL != "" {
			return remoteScreens(cmd.Context())
		}
		return localScreens()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cfg.AuthToken != "" {
			cfg.AuthToken = "[REDACTED]"
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("screenhost v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/screenhost/screenhost.yaml)")
	screensCmd.Flags().StringVar(&serverURL, "server", "", "base URL of a running screen host")
	screensCmd.Flags().StringVar(&authToken, "token", os.Getenv("SCREENHOST_AUTH_TOKEN"), "bearer token for --server")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(screensCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	output, closer, err := logging.OpenOutput(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closer.Close()
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		log.Warn("config adjusted", logging.KeyError, w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			log.Error("invalid config", logging.KeyError, f)
		}
		return fmt.Errorf("config has %d fatal errors", len(result.Fatals))
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Close(closeCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info("starting screen host", "version", version, "addr", cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		reloadOnHangup(gctx, closer)
		return nil
	})
	err = g.Wait()
	log.Info("screen host exited")
	return err
}

// reloadOnHangup reopens the log file on SIGHUP, so external rotation
// works, and applies a changed log_level from the config file.
func reloadOnHangup(ctx context.Context, logOutput io.Closer) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if r, ok := logOutput.(interface{ Reopen() error }); ok {
				if err := r.Reopen(); err != nil {
					log.Error("log reopen failed", logging.KeyError, err)
				}
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				log.Warn("config reload failed", logging.KeyError, err)
				continue
			}
			logging.SetLevel(cfg.LogLevel)
			log.Info("reloaded on SIGHUP", "logLevel", logging.Level().String())
		}
	}
}

func localScreens() error {
	devices, err := desktop.ListDevices()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tID\tBOUNDS")
	for _, d := range devices {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", d.Index, d.ID, d.EffectiveBounds())
	}
	fmt.Fprintf(tw, "\nstrategies: %s\n", strings.Join(desktop.StrategyNames(desktop.DefaultStrategies()), ", "))
	return tw.Flush()
}

type remoteScreen struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Strategy string `json:"strategy"`
	Open     bool   `json:"open"`
	Error    string `json:"error"`
}

func remoteScreens(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var screens []remoteScreen
	url := strings.TrimSuffix(serverURL, "/") + "/screens"
	client := &http.Client{Timeout: 10 * time.Second}
	if err := httputil.GetJSON(ctx, client, url, authToken, &screens, httputil.DefaultRetryConfig()); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tID\tBOUNDS\tSTATE")
	for _, s := range screens {
		state := "idle"
		switch {
		case s.Error != "":
			state = "failed: " + s.Error
		case s.Open:
			state = "streaming (" + s.Strategy + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%dx%d+%d+%d\t%s\n", s.Index, s.ID, s.Width, s.Height, s.X, s.Y, state)
	}
	return tw.Flush()
}
