package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trades-sim/internal/audit"
	"trades-sim/internal/config"
	"trades-sim/internal/engine"
	"trades-sim/internal/execution"
	"trades-sim/internal/ledger"
	"trades-sim/internal/signal"
)

// Server 暴露会话控制与账户查询的 HTTP 接口。
type Server struct {
	cfg     config.ServerConfig
	symbol  string
	session *engine.Session
	book    *ledger.Ledger
	exec    *execution.Controller
	audits  *audit.Service
	logger  *zap.Logger
	router  *gin.Engine
}

// New 创建控制接口服务。
func New(cfg config.ServerConfig, symbol string, session *engine.Session, book *ledger.Ledger, exec *execution.Controller, audits *audit.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:     cfg,
		symbol:  symbol,
		session: session,
		book:    book,
		exec:    exec,
		audits:  audits,
		logger:  logger,
		router:  router,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.POST("/session/start", s.handleSessionStart)
		api.POST("/session/stop", s.handleSessionStop)
		api.POST("/cycle/trigger", s.handleCycleTrigger)
		api.POST("/position/close", s.handlePositionClose)

		api.GET("/account", s.handleAccount)
		api.GET("/position", s.handlePosition)
		api.GET("/history", s.handleHistory)
		api.GET("/trades", s.handleTrades)
		api.GET("/events", s.handleEvents)
	}
}

// Run 启动监听并在 ctx 取消后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("控制接口已启动", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("关闭控制接口失败: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("控制接口异常: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"state":  string(s.session.State()),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSessionStart(c *gin.Context) {
	if err := s.session.Start(context.Background()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(s.session.State())})
}

func (s *Server) handleSessionStop(c *gin.Context) {
	if err := s.session.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(s.session.State())})
}

func (s *Server) handleCycleTrigger(c *gin.Context) {
	if err := s.session.Trigger(); err != nil {
		status := http.StatusConflict
		if errors.Is(err, engine.ErrNotRunning) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": string(s.session.State())})
}

// handlePositionClose 手动平仓，和周期执行共用同一把执行锁。
func (s *Server) handlePositionClose(c *gin.Context) {
	sig := signal.TradeSignal{
		Action:    signal.ActionClose,
		Direction: signal.DirectionHold,
		Rationale: "操作员手动平仓",
	}

	result, err := s.exec.Execute(c.Request.Context(), s.symbol, sig)
	if err != nil {
		switch {
		case errors.Is(err, execution.ErrExecutionConflict):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, ledger.ErrNoPosition):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case execution.IsRejection(err):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "result": result})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAccount(c *gin.Context) {
	c.JSON(http.StatusOK, s.book.Account())
}

func (s *Server) handlePosition(c *gin.Context) {
	pos, ok := s.book.Position(s.symbol)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"symbol": s.symbol, "position": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": s.symbol, "position": pos})
}

// handleHistory 按时间倒序分页返回已平仓交易。
func (s *Server) handleHistory(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 100, 1000)
	offset := parseQueryInt(c, "offset", 0, 1<<30)

	history := s.book.History()
	total := len(history)

	trades := make([]ledger.ClosedTrade, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(trades) < limit; i-- {
		trades = append(trades, history[i])
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"trades": trades,
	})
}

// handleTrades 返回审计日志中的已平仓交易，跨重启可查。
func (s *Server) handleTrades(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 100, 1000)
	offset := parseQueryInt(c, "offset", 0, 1<<30)

	trades, err := s.audits.ListTrades(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limit":  limit,
		"offset": offset,
		"trades": trades,
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 200, 1000)
	offset := parseQueryInt(c, "offset", 0, 1<<30)

	eventType := audit.EventType("")
	if typ := strings.TrimSpace(c.Query("type")); typ != "" {
		eventType = audit.EventType(strings.ToLower(typ))
	}

	events, err := s.audits.ListEvents(c.Request.Context(), eventType, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limit":  limit,
		"offset": offset,
		"events": events,
	})
}

func parseQueryInt(c *gin.Context, key string, fallback, max int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	if v > max {
		return max
	}
	return v
}
