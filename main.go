package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/tools/ids"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $RELAY_CONFIG)")
	flag.Parse()

	cfg, err := global.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger.SetLevel(cfg.Log.Level)
	defer logger.Sync()
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	ids.SetNodeID(ids.NodeIDFromString(cfg.NodeID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newRelay(ctx, cfg)
	logger.Info("[relay] starting",
		zap.String("node", cfg.NodeID), zap.String("addr", cfg.HTTPAddr), zap.String("broker", r.fan.BrokerName()))
	if err := r.run(ctx); err != nil {
		logger.Error("[relay] stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("[relay] bye")
}
