package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/local/forumcast/internal/clone"
	"github.com/local/forumcast/internal/config"
	"github.com/local/forumcast/internal/gateway"
	"github.com/local/forumcast/internal/listener"
	"github.com/local/forumcast/internal/monitor"
	"github.com/local/forumcast/internal/panel"
	"github.com/local/forumcast/internal/recovery"
	"github.com/local/forumcast/internal/standby"
	"github.com/local/forumcast/internal/store"
	"github.com/local/forumcast/internal/supervisor"
)

const version = "0.1.0"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forumcast",
		Short: "forumcast — forum-topic mirroring orchestrator",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("forumcast v%s\n", version)
		},
	})

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Interactively authenticate the reader or writer Telegram session",
	}

	onboardCmd.AddCommand(&cobra.Command{
		Use:   "telegram-reader",
		Short: "QR-login the reader (operator) account",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			if err := config.EnsureDirs(cfg); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "ensure dirs:", err)
				os.Exit(1)
			}
			if err := gateway.LoginQR(cmd.Context(), cfg.APIID, cfg.APIHash, config.ReaderSessionPath(cfg)); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "reader login failed:", err)
				os.Exit(1)
			}
			fmt.Println("reader session authenticated")
		},
	})

	onboardCmd.AddCommand(&cobra.Command{
		Use:   "telegram-bot",
		Short: "Authenticate the writer (bot) session via bot token",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			if err := config.EnsureDirs(cfg); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "ensure dirs:", err)
				os.Exit(1)
			}
			gw := gateway.New(cfg, nil, log.Default())
			defer gw.Close()
			if _, err := gw.Writer.SelfID(cmd.Context()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "writer login failed:", err)
				os.Exit(1)
			}
			fmt.Println("writer (bot) session authenticated")
		},
	})

	rootCmd.AddCommand(onboardCmd)

	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect or repair the durable store",
	}
	storeCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Open the database, applying schema migrations, then exit",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			if err := config.EnsureDirs(cfg); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "ensure dirs:", err)
				os.Exit(1)
			}
			st, err := store.Open(cfg.DatabasePath)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "migrate failed:", err)
				os.Exit(1)
			}
			defer st.Close()
			fmt.Println("store migrated")
		},
	})
	storeCmd.AddCommand(&cobra.Command{
		Use:   "reset-running",
		Short: "Transition any running recovery jobs back to pending (crash recovery)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			st, err := store.Open(cfg.DatabasePath)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "open store:", err)
				os.Exit(1)
			}
			defer st.Close()
			n, err := st.ResetRunning(cmd.Context())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "reset-running:", err)
				os.Exit(1)
			}
			fmt.Printf("reset %d running job(s) to pending\n", n)
		},
	})
	rootCmd.AddCommand(storeCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "gateway",
		Short: "Run the long-lived orchestrator: listener, monitor, standby pool, recovery worker, and panel",
		RunE:  runGateway,
	})

	return rootCmd
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.EnsureDirs(cfg); err != nil {
		return fmt.Errorf("ensure dirs: %w", err)
	}

	logger := log.Default()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if _, err := st.ResetRunning(context.Background()); err != nil {
		return fmt.Errorf("reset running jobs: %w", err)
	}

	gw := gateway.New(cfg, st, logger)
	defer gw.Close()

	engine := clone.New(gw.Reader, gw.Writer, os.TempDir(), logger)
	pool := standby.New(gw.Writer, gw.Reader, st, logger)
	mon := monitor.New(st, pool, logger)
	worker := recovery.New(st, engine, pool, gw.Reader, gw.Writer, cfg.RecoveryMaxRetry, gw.Notify, logger)
	lst := listener.New(gw.Reader, gw.Writer, engine, st, gw.Notify, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lst.Start()
	if err := pool.StartEventDriven(ctx); err != nil {
		logger.Printf("standby event-driven registration failed: %v", err)
	}

	sup := supervisor.New(gw, mon, pool, worker,
		time.Duration(cfg.MonitorIntervalSeconds)*time.Second,
		time.Duration(cfg.StandbyRefreshSeconds)*time.Second,
		nil, logger)
	sup.Run(ctx)

	srv := panel.New(st, pool, cfg.PanelPassword, int64(cfg.PanelSessionTTLSeconds), logger)
	httpServer := &http.Server{Addr: cfg.PanelAddr, Handler: srv.Router()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("panel server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down forumcast")
	cancel()
	_ = httpServer.Shutdown(context.Background())
	sup.Wait()
	return nil
}

func main() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
