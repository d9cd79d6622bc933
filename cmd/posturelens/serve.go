package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/scheduler"
	"github.com/darkace1998/PostureLens/internal/web"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled assessments and the query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.Default()
			log.Info("PostureLens %s starting", Version)

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var sched *scheduler.Scheduler
			if cfg.Scheduler.Enabled {
				sched = scheduler.New(cfg.Scheduler, a.svc, log)
				go sched.Start()
			}

			srv := web.NewServer(cfg.Web, a.svc, sched)
			srv.SetAboutInfo(cfg, Version, time.Now())
			errc := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()

			fmt.Printf("PostureLens %s is running. Press Ctrl+C to stop.\n", Version)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sig:
			case err := <-errc:
				log.Error("Web server error: %v", err)
			}

			log.Info("Shutting down…")
			if sched != nil {
				sched.Stop()
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				log.Warn("Web server shutdown error: %v", err)
			}
			log.Info("PostureLens stopped.")
			return nil
		},
	}
	rootCmd.AddCommand(cmd)
}
