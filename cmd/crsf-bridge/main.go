package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
	"github.com/kstaniek/go-crsf-bridge/internal/serial"
	"github.com/kstaniek/go-crsf-bridge/internal/server"
)

const shutdownTimeout = 3 * time.Second

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("crsf-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	if cfg.listPorts {
		if err := printPorts(); err != nil {
			fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
			os.Exit(1)
		}
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	backend, err := initSerialBackend(ctx, cfg, h, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	sk, err := startSinks(ctx, cfg, h, l, &wg)
	if err != nil {
		l.Error("sink_init_error", "error", err)
		backend.Close()
		return
	}
	backend.addLinkListener(sk.linkChanged)
	backend.run(ctx, &wg)
	backend.sendStartupCommands(cfg)

	srv := server.NewServer(
		server.WithListenAddr(cfg.listenAddr),
		server.WithHub(h),
		server.WithSend(backend.send),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReceiveTimeout(cfg.clientRxTO),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		portNum := listenPort(srv.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when server listener is bound and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		routes := append([]metrics.Route{{Pattern: "/status", Handler: statusHandler(backend, srv.Clients)}}, sk.routes...)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr, routes...)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := srv.Shutdown(sctx); err != nil {
		l.Warn("tcp_shutdown_error", "error", err)
	}
	scancel()
	backend.Close()
	wg.Wait()
	sk.close()
}

// listenPort extracts the port from a bound host:port address.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}

func printPorts() error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.USB {
			fmt.Printf("%s\t%s:%s\t%s\t%s\n", p.Name, p.VID, p.PID, p.Product, p.Serial)
		} else {
			fmt.Println(p.Name)
		}
	}
	return nil
}
