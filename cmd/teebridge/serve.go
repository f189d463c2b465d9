package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/govm-net/teebridge/logging"
	"github.com/govm-net/teebridge/metrics"
	"github.com/govm-net/teebridge/vm"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bootstrap the bridge and serve health and metrics",
	Long: `Bootstrap the bridge and serve /healthz and /metrics until interrupted.
/healthz only reports that the process responds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cfg, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer vm.Shutdown()

		addr := cfg.Server.Listen
		if cmd.Flags().Changed("listen") {
			addr = listenAddr
		}

		gin.SetMode(gin.ReleaseMode)
		srv := &http.Server{
			Addr:              addr,
			Handler:           newRouter(d.Metrics()),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() {
			logging.L().Info("serving", zap.String("addr", addr))
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func newRouter(m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	return r
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address, overrides server.listen")
}
