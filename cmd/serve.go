package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lehigh-university-libraries/herbarium/internal/auth"
	"github.com/lehigh-university-libraries/herbarium/internal/handlers"
	"github.com/lehigh-university-libraries/herbarium/internal/identification"
	"github.com/lehigh-university-libraries/herbarium/internal/stores"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port            string
		provider        string
		model           string
		uploadsDir      string
		identifyTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the herbarium HTTP API",
		Long: `Starts the herbarium API on the specified port.

Clients upload a photo, ask for it to be identified, then save or cancel the
result. Saved plants are served back page by page. Every /api route expects
a bearer token whose subject is the username (see "herbarium token").`,
		Example: `  # Start server on default port 8888
  herbarium serve

  # Use Gemini instead of PlantNet and keep data in mysql
  IDENTIFY_PROVIDER=gemini STORAGE_TYPE=mysql DATA_SOURCE_NAME=... herbarium serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			authn, err := auth.NewFromEnv()
			if err != nil {
				return err
			}

			identifier, err := identification.NewIdentifier(provider, model)
			if err != nil {
				return err
			}

			st, err := stores.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			if uploadsDir == "" {
				uploadsDir = os.Getenv("UPLOADS_DIR")
			}
			handler := handlers.New(handlers.Config{
				Identifier:      identifier,
				Plants:          st.Plants,
				Images:          st.Images,
				UploadsDir:      uploadsDir,
				IdentifyTimeout: identifyTimeout,
			})

			addr := ":" + port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(authn),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Herbarium API available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	cmd.Flags().StringVar(&provider, "provider", "", "Identification provider (plantnet, gemini, openai or ollama; defaults to IDENTIFY_PROVIDER)")
	cmd.Flags().StringVar(&model, "model", "", "Model name for the gemini provider")
	cmd.Flags().StringVar(&uploadsDir, "uploads-dir", "", "Directory for uploaded photos (defaults to UPLOADS_DIR or ./uploads)")
	cmd.Flags().DurationVar(&identifyTimeout, "identify-timeout", 30*time.Second, "Timeout for one identification call")

	return cmd
}
