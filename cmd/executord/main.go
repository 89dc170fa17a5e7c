// Command executord runs a reference executor daemon: it serves the bridge
// protocol over TCP (and optionally websocket), registers itself in etcd, and
// exposes built-in Bridge.Ping / Bridge.Echo operations. Real deployments
// register their own operation receivers next to the built-ins.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"opbridge/config"
	"opbridge/executor"
	"opbridge/middleware"
	"opbridge/registry"
)

// Bridge holds the built-in operations every executor answers.
type Bridge struct{}

type PingArgs struct{}

type PingReply struct {
	Pong bool  `json:"pong"`
	Time int64 `json:"time"`
}

func (b *Bridge) Ping(_ *PingArgs, reply *PingReply) error {
	reply.Pong = true
	reply.Time = time.Now().UnixMilli()
	return nil
}

type EchoArgs struct {
	Value any `json:"value"`
}

type EchoReply struct {
	Value any `json:"value"`
}

func (b *Bridge) Echo(args *EchoArgs, reply *EchoReply) error {
	reply.Value = args.Value
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	exec := executor.New(logger)
	exec.Use(middleware.Logging(logger))
	if cfg.Executor.RatePerSecond > 0 {
		exec.Use(middleware.RateLimit(cfg.Executor.RatePerSecond, cfg.Executor.RateBurst))
	}
	exec.Use(middleware.Timeout(time.Duration(cfg.Executor.RequestTimeoutSeconds) * time.Second))

	if err := exec.Register(&Bridge{}); err != nil {
		logger.Fatal("failed to register operations", zap.Error(err))
	}

	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints)
		if err != nil {
			logger.Fatal("failed to connect etcd", zap.Error(err))
		}
		reg = etcdReg
	}

	if cfg.Executor.WSListenAddr != "" {
		go serveWS(exec, cfg.Executor.WSListenAddr, logger)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		if err := exec.Shutdown(5 * time.Second); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	advertise := cfg.Executor.AdvertiseAddr
	if advertise == "" {
		advertise = cfg.Executor.ListenAddr
	}
	if err := exec.Serve("tcp", cfg.Executor.ListenAddr, advertise, cfg.Registry.Pool, reg); err != nil {
		logger.Fatal("executor failed", zap.Error(err))
	}
}

func serveWS(exec *executor.Executor, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/bridge", exec.WSHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	logger.Info("websocket listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("websocket server failed", zap.Error(err))
	}
}
