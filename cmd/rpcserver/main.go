// Copyright (c) 2024 The horm-database Authors. All rights reserved.
// This file Author:  CaoHao <18500482693@163.com> .
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/coldbase/rpctransport/config"
	"github.com/coldbase/rpctransport/log"
	"github.com/coldbase/rpctransport/registry"
	"github.com/coldbase/rpctransport/transport"
)

// DefaultServerCloseSIG are the signals that trigger a graceful shutdown.
var DefaultServerCloseSIG = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

func main() {
	configPath := flag.String("conf", "./server.yaml", "path to server config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Exit(1)
	}

	logger := log.New(cfg.Log)
	defer logger.Sync()

	opts := transport.DefaultOptions()
	opts.Logger = logger
	if cfg.Server.EventLoopNum > 0 {
		opts.EventLoopNum = cfg.Server.EventLoopNum
	}
	opts.TCPNoDelay = cfg.Server.TCPNoDelay
	opts.ReusePort = cfg.Server.ReusePort

	loc, err := transport.ParseLocator(cfg.Server.Locator)
	if err != nil {
		logger.Errorf("rpcserver: %v", err)
		os.Exit(1)
	}
	t, err := transport.NewTCPTransport(loc, opts)
	if err != nil {
		logger.Errorf("rpcserver: %v", err)
		os.Exit(1)
	}
	logger.Infof("rpcserver: listening on %s", t.GetServiceLocator())

	var namer *registry.EtcdNamer
	if cfg.Register != nil {
		namer, err = registry.NewEtcdNamer(*cfg.Register)
		if err != nil {
			logger.Errorf("rpcserver: naming disabled, connect failed: %v", err)
		} else {
			inst := registry.Instance{Locator: t.GetServiceLocator(), Weight: 1}
			if err := namer.Register(cfg.Server.Name, inst, cfg.Register.TTL); err != nil {
				logger.Errorf("rpcserver: register failed: %v", err)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, DefaultServerCloseSIG...)

	go serveLoop(t, logger)

	<-sigCh

	if namer != nil {
		namer.Deregister(cfg.Server.Name, t.GetServiceLocator())
		time.Sleep(time.Duration(cfg.Server.CloseWaitTime) * time.Millisecond)
		namer.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.MaxCloseWaitTime)*time.Millisecond)
	defer cancel()
	if err := t.Close(ctx); err != nil {
		logger.Errorf("rpcserver: shutdown: %v", err)
	}
}

// serveLoop pulls completed requests off the transport and answers them.
// It is deliberately a placeholder echo handler: a real service plugs its
// own dispatch in here, reading rpc.RequestPayload and filling
// rpc.ReplyPayload before calling rpc.SendReply().
func serveLoop(t *transport.TCPTransport, logger *log.Logger) {
	for {
		rpc, ok, err := t.ServerRecv()
		if err != nil {
			logger.Errorf("rpcserver: ServerRecv: %v", err)
			return
		}
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}

		rpc.ReplyPayload.Append(rpc.RequestPayload.Bytes())
		if err := rpc.SendReply(); err != nil {
			logger.Errorf("rpcserver: SendReply fd=%d: %v", rpc.Fd, err)
		}
	}
}
