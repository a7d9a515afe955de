package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/runbeam/relay/pkg/dispatch"
	"github.com/runbeam/relay/pkg/log"
	"github.com/runbeam/relay/pkg/utils"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultChunkInterval    = 16 * time.Millisecond
	defaultKeepAlive        = 15 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	defaultShutdownTimeout  = 30 * time.Second
)

// Serves the dispatcher on all configured listen addresses until the
// context is cancelled, then drains active jobs before returning.
func serve(ctx context.Context, handler *dispatch.HttpHandler, uris []string) error {
	eg, egCtx := errgroup.WithContext(ctx)

	servers := []*echo.Echo{}
	for _, uri := range uris {
		host, err := utils.ParseHttpUrl(uri)
		if err != nil {
			return err
		}

		log.Info("Listening on http", host)

		r := echo.New()
		r.HideBanner = true
		r.HidePort = true
		r.Use(utils.HttpLogger)
		handler.Register(r)

		servers = append(servers, r)

		server := r
		eg.Go(func() error {
			if err := server.Start(host); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		log.Info("Shutting down")

		handler.Drain(config.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, server := range servers {
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Debug("Server shutdown error:", err)
			}
		}

		return nil
	})

	return eg.Wait()
}
