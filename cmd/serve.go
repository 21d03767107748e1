package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"preik/internal/api"
	"preik/internal/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the api server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline, err := a.pipeline()
	if err != nil {
		return err
	}
	chat, err := a.chat()
	if err != nil {
		return err
	}

	handler := api.NewRouter(api.Deps{
		Chat:           chat,
		Credits:        a.meter,
		Ingest:         pipeline,
		Documents:      a.vectors,
		Discovery:      a.finder(),
		Stores:         a.stores,
		Keys:           a.profiles,
		Limiter:        ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL),
		Resolver:       net.DefaultResolver,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RequestTimeout: cfg.Server.WriteTimeout,

		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("vector_backend", cfg.Vector.Backend).
		Msg("Starting preik api server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
