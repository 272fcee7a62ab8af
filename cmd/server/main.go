package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance-service/internal/config"
	"attendance-service/internal/factory"
	"attendance-service/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	cfg := f.Config()
	if cfg.UsingDefaultSecret() {
		util.Warn("JWT_SECRET is not set - using the development default")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = f.Bootstrap(ctx)
	cancel()
	if err != nil {
		util.Fatal("Bootstrap failed", util.ErrorField(err))
	}

	router := f.Router()

	var servers []*http.Server
	if cfg.Server.EnableTLS {
		httpsServer := newServer(fmt.Sprintf(":%d", cfg.Server.TLSPort), router, cfg)
		httpsServer.TLSConfig = f.TLSManager().TLSConfig()

		// plain listener answers ACME challenges and redirects the rest
		httpServer := newServer(cfg.GetServerAddress(), f.TLSManager().ChallengeHandler(http.HandlerFunc(redirectToHTTPS(cfg))), cfg)

		servers = append(servers, httpsServer, httpServer)
		go serve(httpsServer, true)
		go serve(httpServer, false)

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		server := newServer(cfg.GetServerAddress(), router, cfg)
		servers = append(servers, server)
		go serve(server, false)

		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	waitForShutdown(f, servers...)
}

func newServer(addr string, h http.Handler, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func serve(server *http.Server, useTLS bool) {
	var err error
	if useTLS {
		// certificates come from TLSConfig.GetCertificate
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("Server failed", util.String("address", server.Addr), util.ErrorField(err))
	}
}

func redirectToHTTPS(cfg *config.Config) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if cfg.Server.Domain != "" {
			host = cfg.Server.Domain
		}
		if cfg.Server.TLSPort != 443 {
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			host = fmt.Sprintf("%s:%d", host, cfg.Server.TLSPort)
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
	}
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}
	f.Close()
}
