package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaylens/captureproxy/internal/certauthority"
	"github.com/relaylens/captureproxy/internal/config"
	"github.com/relaylens/captureproxy/internal/controlapi"
	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/mirror"
	"github.com/relaylens/captureproxy/internal/pipeline"
	"github.com/relaylens/captureproxy/internal/proxy"
	"github.com/relaylens/captureproxy/internal/ring"
	"github.com/relaylens/captureproxy/internal/session"
)

const shutdownGrace = 5 * time.Second

func main() {
	log := logging.NewDefault(os.Getenv("VERBOSE") == "1")
	cfg := config.Load(log)

	var sessionMirror session.Mirror
	var mongoMirror *mirror.Mongo
	if cfg.MongoURI != "" {
		m, err := mirror.Connect(cfg.MongoURI, log)
		if err != nil {
			log.Warn("mirror: could not connect to %s: %v (continuing without it)", cfg.MongoURI, err)
		} else {
			mongoMirror = m
			sessionMirror = m
		}
	}

	store := session.New(cfg.SessionRoot, log, sessionMirror)
	if err := store.Init(); err != nil {
		log.Error("session store init failed: %v", err)
		os.Exit(1)
	}

	buffer := ring.New(cfg.RingCapacity)
	sink := pipeline.New(buffer, store, log)

	forward := proxy.NewForwardProxy(cfg.BodyLimit, sink, log)
	tunnel := proxy.NewTunnelProxy(sink, log)

	var mitm *proxy.MitmProxy
	if cfg.MitmEnabled {
		ca, err := certauthority.LoadOrCreate(cfg.CADir)
		if err != nil {
			log.Error("certauthority: %v", err)
			os.Exit(1)
		}
		mitm = proxy.NewMitmProxy(ca, cfg.BodyLimit, sink, log)
		log.Info("MITM enabled, root CA at %s", cfg.CADir)
	}

	proxyHandler := &dispatcher{forward: forward, tunnel: tunnel, mitm: mitm}
	proxyServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ProxyPort),
		Handler: proxyHandler,
	}

	controlRouter := controlapi.NewRouter(buffer, store, log)
	controlServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: controlRouter,
	}

	go func() {
		log.Info("proxy listening on :%d", cfg.ProxyPort)
		if err := proxyServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("proxy server: %v", err)
		}
	}()

	go func() {
		log.Info("control API listening on :%d", cfg.HTTPPort)
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control server: %v", err)
		}
	}()

	waitForShutdown(log)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	_ = proxyServer.Shutdown(ctx)
	_ = controlServer.Shutdown(ctx)

	if _, err := store.Stop(); err != nil {
		log.Error("session store stop: %v", err)
	}
	if mongoMirror != nil {
		if err := mongoMirror.Close(); err != nil {
			log.Warn("mirror close: %v", err)
		}
	}

	log.Info("shutdown complete")
}

// dispatcher routes CONNECT requests to the tunnel or MITM proxy (depending
// on whether MITM_ENABLED is set) and everything else to the forward
// proxy.
type dispatcher struct {
	forward *proxy.ForwardProxy
	tunnel  *proxy.TunnelProxy
	mitm    *proxy.MitmProxy
}

func (d *dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		if d.mitm != nil {
			d.mitm.ServeHTTP(w, r)
			return
		}
		d.tunnel.ServeHTTP(w, r)
		return
	}
	d.forward.ServeHTTP(w, r)
}

func waitForShutdown(log logging.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	log.Info("received %v, shutting down", s)
}
