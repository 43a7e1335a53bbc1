package chat

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/tools/errs"
	"PRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ServerConf struct {
	DefaultLang    string
	MaxConnections int // <= 0 means unlimited
	Client         ClientConf
	// CheckOrigin vets the upgrade request; nil accepts every origin.
	CheckOrigin func(*http.Request) bool
}

// Server accepts WebSocket sessions on /ws/:clientId?lang=<tag>.
type Server struct {
	ctx      context.Context
	reg      *Registry
	coord    *Coordinator
	conf     ServerConf
	upgrader websocket.Upgrader
	active   atomic.Int64
}

// NewServer builds the handler. ctx outlives individual requests and is
// cancelled on shutdown, which closes every session.
func NewServer(ctx context.Context, reg *Registry, coord *Coordinator, conf ServerConf) *Server {
	if conf.DefaultLang == "" {
		conf.DefaultLang = SystemLang
	}
	checkOrigin := conf.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		ctx:   ctx,
		reg:   reg,
		coord: coord,
		conf:  conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Active is the number of sessions this server is currently running.
func (s *Server) Active() int { return int(s.active.Load()) }

func (s *Server) HandleWS(c *gin.Context) {
	clientID := strings.TrimSpace(c.Param("clientId"))
	if clientID == "" {
		c.JSON(http.StatusBadRequest, global.Fail(&errs.ErrArgs))
		return
	}
	lang := c.DefaultQuery("lang", s.conf.DefaultLang)

	if n := s.active.Add(1); s.conf.MaxConnections > 0 && n > int64(s.conf.MaxConnections) {
		s.active.Add(-1)
		logger.Warn("[ws] connection rejected, relay full", zap.String("client", clientID), zap.Int("max", s.conf.MaxConnections))
		c.JSON(http.StatusServiceUnavailable, global.Fail(&errs.ErrTooManyConnections))
		return
	}
	defer s.active.Add(-1)

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Info("[ws] upgrade failed", zap.String("client", clientID), zap.Error(err))
		return
	}

	client := NewClient(clientID, lang, ws, s.conf.Client)
	if prev := s.reg.Register(clientID, client, lang); prev != nil {
		logger.Info("[ws] client reconnected, closing previous session", zap.String("client", clientID))
		_ = prev.Close()
	}
	logger.Info("[ws] connected", zap.String("client", clientID), zap.String("lang", lang), zap.Int("active", s.reg.Count()))

	s.coord.Join(s.ctx, clientID)

	_ = client.Run(s.ctx, func(data []byte) {
		safe.Run("ws-inbound", func() { s.coord.HandleInbound(s.ctx, clientID, lang, data) })
	})

	if s.reg.Unregister(clientID, client) {
		logger.Info("[ws] disconnected", zap.String("client", clientID), zap.Int("active", s.reg.Count()))
		if s.ctx.Err() == nil {
			s.coord.Leave(s.ctx, clientID)
		}
	}
}
