// Command collector receives the temperature POSTs of ds18b20-to-http and
// keeps the latest ones in memory for inspection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/collector"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	listen := fs.String("listen", ":8080", "Listen address")
	path := fs.String("path", "/data", "Request path accepting readings")
	keep := fs.Int("keep", 100, "Number of samples kept in memory")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := collector.NewServer(collector.NewStore(*keep), logger)
	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           collector.NewRouter(srv, *path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("collector listening", "address", *listen, "path", *path)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("collector stopped", "error", err)
		os.Exit(1)
	}
}
