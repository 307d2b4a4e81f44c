package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bank-service/internal/config"
	"bank-service/internal/factory"
	"bank-service/internal/util"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		util.Fatal("Server exited", util.ErrorField(err))
	}
}

func run() error {
	// Loads config, opens the ledger backend and connects the enabled sinks
	f, err := factory.NewFactory()
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := f.Config()
	servers := buildServers(f, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			util.Info("Listening",
				util.String("addr", srv.Addr),
				util.Bool("tls", srv.TLSConfig != nil),
			)
			var err error
			if srv.TLSConfig != nil {
				// Certificates come from the TLS manager's GetCertificate
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("%s: %w", srv.Addr, err)
		})
	}

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.String("ledger_backend", cfg.Ledger.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
	)

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				util.Error("Failed to shutdown server gracefully",
					util.String("addr", srv.Addr),
					util.ErrorField(err))
			}
		}
		return nil
	})

	return g.Wait()
}

// buildServers returns the API server and, for AutoCert in production, the
// port 80 server that answers ACME challenges and redirects to HTTPS.
func buildServers(f *factory.Factory, cfg *config.Config) []*http.Server {
	api := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      f.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("TLS is disabled", util.Int("port", cfg.Server.Port))
		return []*http.Server{api}
	}

	tlsManager := f.TLSManager()
	api.TLSConfig = tlsManager.GetTLSConfig()
	api.Addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort)

	acme := tlsManager.GetAutocertManager()
	if !cfg.IsProduction() || acme == nil {
		return []*http.Server{api}
	}

	api.Addr = ":443"
	challenge := &http.Server{
		Addr:              ":80",
		Handler:           acme.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return []*http.Server{api, challenge}
}
