// aurus-relay runs the opaque WebSocket signaling relay that lets two
// paired devices find each other across networks and exchange
// encrypted SDP/ICE blobs before falling back to a direct WebRTC data
// channel.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/aurus-sync/core/pkg/relay"
)

var (
	listenAddr   string
	metricsAddr  string
	allowOrigins []string
)

func main() {
	_ = godotenv.Load() // optional; missing .env is not an error

	root := &cobra.Command{
		Use:   "aurus-relay",
		Short: "Opaque signaling relay for aurus-sync pairing",
		RunE:  run,
	}

	root.Flags().StringVar(&listenAddr, "listen", envOr("AURUS_RELAY_LISTEN", ":8765"), "address to listen on")
	root.Flags().StringVar(&metricsAddr, "metrics-listen", envOr("AURUS_RELAY_METRICS_LISTEN", ":9765"), "address to serve Prometheus metrics on")
	root.Flags().StringSliceVar(&allowOrigins, "allow-origin", []string{"*"}, "CORS origins allowed for the relay's HTTP surface")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func run(cmd *cobra.Command, _ []string) error {
	loggerFactory := logging.NewDefaultLoggerFactory()
	log := loggerFactory.NewLogger("aurus-relay")

	relayServer := relay.NewServer(relay.Config{LoggerFactory: loggerFactory})

	router := mux.NewRouter()
	router.Handle("/ws", relayServer)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	corsMW := cors.New(cors.Options{
		AllowedOrigins: allowOrigins,
		AllowedMethods: []string{http.MethodGet},
	})

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           corsMW.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsRouter, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		log.Infof("relay listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		log.Infof("metrics listening on %s", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	metricsSrv.Shutdown(ctx)
	return nil
}
