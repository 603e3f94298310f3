// memserverd is the memory server daemon: it loads configuration, brings
// up a fabric endpoint, wires every core component into a server.Server,
// registers the configured RPC adapter, and serves until a termination
// signal triggers a coordinated shutdown (§5, §9).
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/OpenFAM/OpenFAM-sub004/config"
	"github.com/OpenFAM/OpenFAM-sub004/fabric"
	"github.com/OpenFAM/OpenFAM-sub004/metrics"
	"github.com/OpenFAM/OpenFAM-sub004/rpc/grpcsvc"
	"github.com/OpenFAM/OpenFAM-sub004/rpc/streamsvc"
	"github.com/OpenFAM/OpenFAM-sub004/server"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

var (
	configPath = flag.String("config", "", "path to openfam.yaml (defaults to $OPENFAM_ROOT/openfam.yaml)")
	memIndex   = flag.Int("memserver_index", 0, "this process's index into the Memservers config map")
	verbosity  = flag.Int("v", 0, "module verbosity level")
)

func main() {
	flag.Parse()
	xlog.SetVerbosity(int32(*verbosity))

	path := *configPath
	if path == "" {
		path = filepath.Join(config.ConfigRoot(), "openfam.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		xlog.Errorf("memserverd: config: %v", err)
		os.Exit(1)
	}

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	mc := cfg.Memservers[strconv.Itoa(*memIndex)]
	mode := fabric.ProgressAuto
	if mc.IfDevice != "" {
		mode = fabric.ProgressManual
	}
	endpoint := fabric.NewLoopback(fmt.Sprintf("memserver-%d", *memIndex), mode)

	srv, err := server.New(cfg, reg, endpoint, *memIndex)
	if err != nil {
		xlog.Errorf("memserverd: server init: %v", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	go serveRPC(cfg, mc, srv, stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	xlog.Infof("memserverd: signal received, shutting down")
	close(stop)

	if err := srv.Shutdown(); err != nil {
		xlog.Errorf("memserverd: shutdown: %v", err)
		os.Exit(1)
	}
}

// serveRPC brings up whichever adapter cfg.RPCFrameworkType selects
// (§9 Open Question: thallium has no Go binding, so "thallium" maps to
// the fasthttp-based streamsvc adapter) and blocks until stop closes.
func serveRPC(cfg *config.Config, mc config.MemserverConfig, srv *server.Server, stop <-chan struct{}) {
	addr := mc.RPCInterface
	if addr == "" {
		addr = ":0"
	}

	switch cfg.RPCFrameworkType {
	case "thallium":
		adapter := streamsvc.New(srv)
		go func() {
			if err := adapter.ListenAndServe(addr); err != nil {
				xlog.Errorf("memserverd: streamsvc: %v", err)
			}
		}()
		<-stop

	default:
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			xlog.Errorf("memserverd: listen %s: %v", addr, err)
			return
		}
		grpcServer := grpc.NewServer()
		grpcsvc.New(srv).Register(grpcServer)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				xlog.Errorf("memserverd: grpcsvc: %v", err)
			}
		}()
		<-stop
		grpcServer.GracefulStop()
	}
}
