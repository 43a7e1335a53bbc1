package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/middleware"
	"PRelay/service/chat"
	"PRelay/service/fanout"
	"PRelay/service/kafka"
	"PRelay/service/metrics"
	"PRelay/service/natsx"
	"PRelay/service/privacy"
	redisx "PRelay/service/storage/redis"
	"PRelay/service/translate"
	"PRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// relay is the composition root: every component is built here and handed
// to the ones that need it.
type relay struct {
	cfg *global.RelayConfig

	reg     *chat.Registry
	gw      *translate.Gateway
	pool    *translate.Pool
	metrics *metrics.Metrics
	fan     *fanout.Fanout
	coord   *chat.Coordinator
	ws      *chat.Server

	rdb      *redisx.Manager
	presence *redisx.Presence

	engine *gin.Engine
}

// newRelay wires the process. ctx ends websocket sessions on shutdown. A
// broker that cannot be reached leaves the relay in single-process mode.
func newRelay(ctx context.Context, cfg *global.RelayConfig) *relay {
	r := &relay{cfg: cfg, reg: chat.NewRegistry()}

	var remote translate.Provider
	if cfg.Translate.Endpoint != "" {
		remote = translate.NewHTTPProvider(cfg.Translate.Endpoint, cfg.Translate.Timeout)
	}
	r.gw = translate.NewGateway(translate.NewPhrasebook(remote, cfg.Translate.Warmup), translate.GatewayConf{
		Timeout:     cfg.Translate.Timeout,
		InitTimeout: cfg.Translate.InitTimeout,
	})
	r.pool = translate.NewPool(cfg.Translate.Workers, cfg.Translate.QueueSize)

	r.metrics = metrics.New(metrics.NewEvaluator(cfg.Metrics.HistorySize, cfg.Metrics.MaxLatencyMs), metrics.Gauges{
		Connections: func() float64 { return float64(r.reg.Count()) },
		QueuedJobs:  func() float64 { return float64(r.pool.Queued()) },
		BusyWorkers: func() float64 { return float64(r.pool.Busy()) },
	})

	r.fan = fanout.New(r.dialBroker(ctx), fanout.Conf{
		NodeID: cfg.NodeID,
		Topic:  cfg.Broker.Topic,
		Dedupe: cfg.Broker.Dedupe,

		Handlers:     cfg.Broker.Handlers,
		HandlerQueue: cfg.Broker.HandlerQueue,
	})
	r.coord = chat.NewCoordinator(r.reg, r.gw, r.pool,
		chat.CoordinatorConf{QueueWait: cfg.Translate.QueueWait},
		chat.WithPublisher(r.fan),
		chat.WithObserver(r.metrics),
		chat.WithSanitizer(privacy.New()),
	)
	r.ws = chat.NewServer(ctx, r.reg, r.coord, chat.ServerConf{
		DefaultLang:    cfg.DefaultLang,
		MaxConnections: cfg.MaxConnections,
		CheckOrigin:    middleware.AllowedOrigin(cfg.AllowedOrigins...),
		Client: chat.ClientConf{
			SendQueue:    cfg.Conn.SendQueue,
			WriteWait:    cfg.Conn.WriteWait,
			PongWait:     cfg.Conn.PongWait,
			PingInterval: cfg.Conn.PingInterval,
			ReadLimit:    cfg.Conn.ReadLimit,
			RatePerSec:   cfg.Conn.RatePerSec,
			RateBurst:    cfg.Conn.RateBurst,
			InboxQueue:   cfg.Conn.InboxQueue,
		},
	})

	if r.rdb != nil {
		r.presence = redisx.NewPresence(r.rdb, redisx.PresenceConf{
			NodeID:   cfg.NodeID,
			Interval: cfg.Broker.Redis.PresenceInterval,
		}, r.reg.Count)
	}

	r.engine = r.routes()
	return r
}

func (r *relay) dialBroker(ctx context.Context) fanout.Broker {
	b := r.cfg.Broker
	switch b.Kind {
	case global.BrokerRedis:
		m, err := redisx.New(ctx, redisx.Config{
			Addr:     b.Redis.Addr(),
			Password: b.Redis.Password,
			DB:       b.Redis.DB,
			PoolSize: b.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn("[relay] redis unavailable, single-process mode", zap.Error(err))
			return nil
		}
		r.rdb = m
		return redisx.NewBroker(m)
	case global.BrokerNats:
		c, err := natsx.Connect(natsx.Config{
			Servers:  b.Nats.Servers,
			Name:     "prelay-" + r.cfg.NodeID,
			User:     b.Nats.User,
			Password: b.Nats.Password,
		})
		if err != nil {
			logger.Warn("[relay] nats unavailable, single-process mode", zap.Error(err))
			return nil
		}
		return c
	case global.BrokerKafka:
		k, err := kafka.Dial(kafka.Config{
			Brokers:           b.Kafka.Brokers,
			Key:               r.cfg.NodeID,
			Version:           b.Kafka.Version,
			Compression:       b.Kafka.Compression,
			Partitions:        b.Kafka.Partitions,
			ReplicationFactor: b.Kafka.ReplicationFactor,
			EnsureTopic:       b.Kafka.EnsureTopic,
		}, b.Topic)
		if err != nil {
			logger.Warn("[relay] kafka unavailable, single-process mode", zap.Error(err))
			return nil
		}
		return k
	default:
		return nil
	}
}

func (r *relay) routes() *gin.Engine {
	e := gin.New()
	guards := middleware.NewManager(middleware.CORS(r.cfg.AllowedOrigins...))
	e.Use(middleware.Recovery(), middleware.AccessLog("/health", "/metrics/prometheus"), guards.Use())

	e.GET("/ws/:clientId", r.ws.HandleWS)
	e.GET("/health", r.health)
	e.GET("/metrics", r.metricsReport)
	e.GET("/metrics/prometheus", gin.WrapH(r.metrics.Handler()))
	e.POST("/evaluate", r.evaluate)
	e.GET("/scaling", func(c *gin.Context) { c.JSON(http.StatusOK, r.cfg.ScalingReport()) })

	if dir := r.cfg.StaticDir; dir != "" {
		e.Static("/static", dir)
		e.StaticFile("/", filepath.Join(dir, "index.html"))
	}
	return e
}

func (r *relay) health(c *gin.Context) {
	status, avg := r.metrics.Eval.Health()
	c.JSON(http.StatusOK, gin.H{
		"status":             status,
		"avg_latency_ms":     avg,
		"active_connections": r.reg.Count(),
		"model":              r.gw.State().String(),
	})
}

// evaluate scores the gateway against the posted cases, or the built-in set
// when the body is empty.
func (r *relay) evaluate(c *gin.Context) {
	cases := metrics.DefaultQualityCases
	if c.Request.ContentLength != 0 {
		var posted []metrics.QualityCase
		if err := c.ShouldBindJSON(&posted); err != nil {
			logger.Info("[relay] bad evaluation request", zap.Error(err))
			c.JSON(http.StatusBadRequest, global.Fail(&errs.ErrArgs))
			return
		}
		if len(posted) > 0 {
			cases = posted
		}
	}
	c.JSON(http.StatusOK, global.Success(r.metrics.Eval.Evaluate(c.Request.Context(), r.gw, cases)))
}

func (r *relay) metricsReport(c *gin.Context) {
	local := r.reg.Count()
	cluster, nodes := local, 1
	if r.presence != nil {
		if total, live, err := r.presence.ClusterConnections(c.Request.Context()); err != nil {
			logger.Warn("[relay] cluster count failed, reporting local", zap.Error(err))
		} else if live > 0 {
			cluster, nodes = total, live
		}
	}
	published, received, failed := r.fan.Stats()
	c.JSON(http.StatusOK, gin.H{
		"performance_report":  r.metrics.Eval.Report(),
		"total_translations":  r.metrics.Eval.Total(),
		"active_connections":  local,
		"cluster_connections": cluster,
		"cluster_nodes":       nodes,
		"broker": gin.H{
			"kind":      r.fan.BrokerName(),
			"connected": r.fan.Connected(),
			"published": published,
			"received":  received,
			"failed":    failed,
			"dropped":   r.fan.Dropped(),
		},
	})
}

// run serves until ctx is done, then drains in dependency order.
func (r *relay) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              r.cfg.HTTPAddr,
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return r.fan.Run(gctx, r.coord.Deliver) })
	if r.presence != nil {
		g.Go(func() error { return r.presence.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	r.close()
	return err
}

func (r *relay) close() {
	r.reg.CloseAll()
	r.coord.Close()
	r.pool.Close()
	if err := r.fan.Close(); err != nil {
		logger.Warn("[relay] broker close", zap.Error(err))
	}
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
}
