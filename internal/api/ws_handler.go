package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"hireTrack/internal/auth"
)

// WsHandler 向发起人推送异步任务结果（目前只有催办批处理的完成通知）。
// 客户端连上后先发 {"type":"auth","token":...}，校验通过后开始收到
// user_notify:<id> 频道的消息。
type WsHandler struct {
	redisClient *redis.Client
	authService *auth.AuthService
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

const (
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(redisClient *redis.Client, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	return &WsHandler{
		redisClient: redisClient,
		authService: authService,
		logger:      logger,
		upgrader:    websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

// originChecker 未配置白名单时退回同源校验。
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(allowed) == 0 {
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		}
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		return false
	}
}

// HandleConnection 升级连接、等待鉴权帧，然后进入转发循环。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket", slog.Any("error", err))
		return
	}
	defer conn.Close()

	userID, err := h.awaitAuth(conn)
	if err != nil {
		h.logger.Warn("websocket auth failed",
			slog.String("client_ip", c.ClientIP()),
			slog.Any("error", err),
		)
		return
	}
	log := h.logger.With(slog.Uint64("user_id", uint64(userID)))
	log.Info("websocket authenticated")

	h.forward(c, conn, userID, log)
}

// awaitAuth 在限时内读取鉴权帧并校验访问令牌。
func (h *WsHandler) awaitAuth(conn *websocket.Conn) (uint, error) {
	if err := conn.SetReadDeadline(time.Now().Add(wsAuthTimeout)); err != nil {
		return 0, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("read auth frame: %w", err)
	}

	var msg struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "auth" || msg.Token == "" {
		h.closeWith(conn, websocket.ClosePolicyViolation, "auth required")
		return 0, fmt.Errorf("invalid auth frame")
	}

	claims, err := h.authService.ValidateToken(msg.Token)
	if err != nil {
		h.closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
		return 0, fmt.Errorf("validate token: %w", err)
	}
	if claims.TokenType != "access" {
		h.closeWith(conn, websocket.ClosePolicyViolation, "access token required")
		return 0, fmt.Errorf("token type %q not allowed", claims.TokenType)
	}

	_ = conn.SetReadDeadline(time.Time{})
	return claims.UserID, nil
}

// forward 订阅用户通知频道并把消息原样推给客户端。
// 后台读循环只为感知客户端断开。
func (h *WsHandler) forward(c *gin.Context, conn *websocket.Conn, userID uint, log *slog.Logger) {
	ctx := c.Request.Context()
	channel := fmt.Sprintf("user_notify:%d", userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	msgs := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			log.Info("websocket closed by client")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Warn("notify subscription closed", slog.String("channel", channel))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				log.Info("websocket write failed", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Info("websocket ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (h *WsHandler) closeWith(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
