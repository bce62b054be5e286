/*
Package gateway is the HTTP surface of the proxy. Each handler extracts
the session id and operation parameters, resolves the session through
the broker, performs exactly one remote-provider operation with the
resolved credentials as a per-call argument, and relays the result.
Validation failures short-circuit before the session store or the
provider is touched.
*/
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/OrchardMediaLabs/orchard/broker"
	"github.com/OrchardMediaLabs/orchard/config"
	"github.com/OrchardMediaLabs/orchard/models"
	"github.com/OrchardMediaLabs/orchard/remote"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const apiPrefix = "/media/api/v1"

type Core struct {
	appCtx   context.Context
	cfg      *config.Config
	logger   *slog.Logger
	sessions broker.Store
	remote   remote.Gateway
	mux      *http.ServeMux

	startedAt time.Time

	rateLimiters map[string]*ttlcache.Cache[string, *rate.Limiter]

	// WebSocket audit-event handling
	eventSubscribers     map[string]map[*eventSession]bool
	eventSubscribersLock sync.RWMutex
	wsUpgrader           websocket.Upgrader
	eventCh              chan models.Event
	activeWsConnections  int32
	wsConnectionLock     sync.Mutex
}

func New(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	sessions broker.Store,
	rg remote.Gateway,
) *Core {

	rateLimiters := make(map[string]*ttlcache.Cache[string, *rate.Limiter])
	rlLogger := logger.With("component", "rate-limiter")

	makeCategoryRateLimiter := func() *ttlcache.Cache[string, *rate.Limiter] {
		cache := ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](time.Minute*1),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		)
		go cache.Start()
		return cache
	}

	for category, rlConfig := range map[string]config.RateLimiterConfig{
		"sessions": cfg.RateLimiters.Sessions,
		"media":    cfg.RateLimiters.Media,
		"upload":   cfg.RateLimiters.Upload,
		"default":  cfg.RateLimiters.Default,
	} {
		if rlConfig.Limit > 0 {
			rateLimiters[category] = makeCategoryRateLimiter()
			rlLogger.Info("Initialized rate limiter", "category", category, "limit", rlConfig.Limit, "burst", rlConfig.Burst)
		}
	}

	core := &Core{
		appCtx:           ctx,
		cfg:              cfg,
		logger:           logger,
		sessions:         sessions,
		remote:           rg,
		mux:              http.NewServeMux(),
		rateLimiters:     rateLimiters,
		eventSubscribers: make(map[string]map[*eventSession]bool),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Sessions.WebSocketReadBufferSize,
			WriteBufferSize: cfg.Sessions.WebSocketWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		eventCh: make(chan models.Event, cfg.Sessions.EventChannelSize),
	}

	core.routes()

	go core.eventProcessingLoop()

	return core
}

func (c *Core) routes() {
	// Session broker
	c.mux.Handle("POST "+apiPrefix+"/sessions", c.rateLimitMiddleware(http.HandlerFunc(c.createSessionHandler), "sessions"))
	c.mux.Handle("POST "+apiPrefix+"/sessions/revoke", c.rateLimitMiddleware(http.HandlerFunc(c.revokeSessionHandler), "sessions"))

	// Asset operations
	c.mux.Handle("POST "+apiPrefix+"/assets/list", c.rateLimitMiddleware(http.HandlerFunc(c.listAssetsHandler), "media"))
	c.mux.Handle("POST "+apiPrefix+"/assets/upload", c.rateLimitMiddleware(http.HandlerFunc(c.uploadHandler), "upload"))
	c.mux.Handle("POST "+apiPrefix+"/assets/rename", c.rateLimitMiddleware(http.HandlerFunc(c.renameAssetHandler), "media"))
	c.mux.Handle("POST "+apiPrefix+"/assets/delete", c.rateLimitMiddleware(http.HandlerFunc(c.deleteAssetHandler), "media"))
	c.mux.Handle("POST "+apiPrefix+"/assets/delete-batch", c.rateLimitMiddleware(http.HandlerFunc(c.batchDeleteAssetsHandler), "media"))

	// Folder operations
	c.mux.Handle("POST "+apiPrefix+"/folders/list", c.rateLimitMiddleware(http.HandlerFunc(c.listFoldersHandler), "media"))
	c.mux.Handle("POST "+apiPrefix+"/folders", c.rateLimitMiddleware(http.HandlerFunc(c.createFolderHandler), "media"))
	c.mux.Handle("POST "+apiPrefix+"/folders/rename", c.rateLimitMiddleware(http.HandlerFunc(c.renameFolderHandler), "media"))
	c.mux.Handle("POST "+apiPrefix+"/folders/delete", c.rateLimitMiddleware(http.HandlerFunc(c.deleteFolderHandler), "media"))

	// Events + liveness
	c.mux.Handle("GET "+apiPrefix+"/events/subscribe", c.rateLimitMiddleware(http.HandlerFunc(c.eventSubscribeHandler), "default"))
	c.mux.Handle("GET "+apiPrefix+"/ping", c.rateLimitMiddleware(http.HandlerFunc(c.pingHandler), "default"))
}

// Handler exposes the routed mux, mainly for tests.
func (c *Core) Handler() http.Handler {
	return c.mux
}

func (c *Core) getRemoteAddress(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		c.logger.Debug("Could not split host and port from remote address", "remote_addr", r.RemoteAddr, "error", err)
		remoteIP = r.RemoteAddr
	}

	trusted := make(map[string]struct{})
	for _, proxy := range c.cfg.TrustedProxies {
		trusted[proxy] = struct{}{}
	}

	if _, ok := trusted[remoteIP]; ok {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			ips := strings.Split(forwardedFor, ",")
			return strings.TrimSpace(ips[0])
		}
	}
	return remoteIP
}

func (c *Core) getRateLimiter(category string, r *http.Request) *rate.Limiter {
	limiterCategory, ok := c.rateLimiters[category]
	if !ok {
		limiterCategory = c.rateLimiters["default"]
	}
	ip := c.getRemoteAddress(r)
	limiterItem := limiterCategory.Get(ip)
	if limiterItem == nil {
		var rlConfig config.RateLimiterConfig
		switch category {
		case "sessions":
			rlConfig = c.cfg.RateLimiters.Sessions
		case "media":
			rlConfig = c.cfg.RateLimiters.Media
		case "upload":
			rlConfig = c.cfg.RateLimiters.Upload
		default:
			rlConfig = c.cfg.RateLimiters.Default
		}
		limiter := rate.NewLimiter(rate.Limit(rlConfig.Limit), rlConfig.Burst)
		limiterItem = limiterCategory.Set(ip, limiter, time.Minute*1)
	}
	return limiterItem.Value()
}

func (c *Core) rateLimitMiddleware(next http.Handler, category string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := c.getRateLimiter(category, r)
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			c.logger.Warn("Rate limit exceeded", "category", category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

			retryAfterSeconds := math.Ceil(delay.Seconds())
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfterSeconds))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%v", limiter.Limit()))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.Burst()))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// remoteCtx bounds one provider call. The proxy has no retry layer, so
// a hung upstream must not pin the request forever.
func (c *Core) remoteCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), c.cfg.Remote.Timeout)
}

func (c *Core) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		c.logger.Error("Could not read request body", "path", r.URL.Path, "error", err)
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "could not read request body")
		return false
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		c.logger.Error("Invalid JSON payload", "path", r.URL.Path, "error", err)
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "invalid JSON payload: "+err.Error())
		return false
	}
	return true
}

// resolveSession maps a session id to its credential triple, writing
// the authorization failure itself when the id is unknown. A false
// return means the handler must not touch the remote provider.
func (c *Core) resolveSession(w http.ResponseWriter, sessionID string) (*broker.Session, bool) {
	session, err := c.sessions.Resolve(sessionID)
	if err != nil {
		var invalid *broker.ErrInvalidSession
		if errors.As(err, &invalid) {
			c.writeError(w, http.StatusUnauthorized, models.ErrorTypeInvalidSession, "invalid or expired session")
			return nil, false
		}
		c.logger.Error("Could not resolve session", "error", err)
		c.writeError(w, http.StatusInternalServerError, models.ErrorTypeInvalidSession, "could not resolve session")
		return nil, false
	}
	return session, true
}

func (c *Core) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(models.ErrorResponse{
		Error:     message,
		ErrorType: errType,
	}); err != nil {
		c.logger.Error("Could not encode error response", "error", err)
	}
}

// writeRemoteError folds a failed provider call into the wire taxonomy.
func (c *Core) writeRemoteError(w http.ResponseWriter, op string, err error) {
	var (
		timeout   *remote.ErrTimeout
		opFailed  *remote.ErrOperationFailed
		transport *remote.ErrTransport
	)

	switch {
	case errors.As(err, &timeout):
		c.logger.Warn("Remote operation timed out", "op", op)
		c.writeError(w, http.StatusGatewayTimeout, models.ErrorTypeRemoteTimeout, fmt.Sprintf("remote %s timed out", op))
	case errors.As(err, &opFailed):
		c.logger.Warn("Remote operation failed", "op", op, "status_code", opFailed.StatusCode, "message", opFailed.Message)
		c.writeError(w, http.StatusBadGateway, models.ErrorTypeRemoteOperationFailed, opFailed.Message)
	case errors.As(err, &transport):
		c.logger.Error("Remote transport failure", "op", op, "error", err)
		c.writeError(w, http.StatusBadGateway, models.ErrorTypeTransportFailure, fmt.Sprintf("could not reach the remote provider for %s", op))
	default:
		c.logger.Error("Unexpected remote error", "op", op, "error", err)
		c.writeError(w, http.StatusInternalServerError, models.ErrorTypeTransportFailure, fmt.Sprintf("unexpected failure during %s", op))
	}
}

func (c *Core) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		c.logger.Error("Could not encode response", "error", err)
	}
}

func (c *Core) pingHandler(w http.ResponseWriter, _ *http.Request) {
	c.writeJSON(w, map[string]string{"status": "ok"})
}

// Run serves until the application context is cancelled.
func (c *Core) Run() {
	httpListenAddr := c.cfg.HTTPBinding
	c.logger.Info("Attempting to start server", "listen_addr", httpListenAddr, "tls_enabled", (c.cfg.TLS.Cert != "" && c.cfg.TLS.Key != ""))

	srv := &http.Server{
		Addr:    httpListenAddr,
		Handler: c.mux,
	}

	go func() {
		<-c.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("Server shutdown error", "error", err)
		}
	}()

	c.startedAt = time.Now()

	if c.cfg.TLS.Cert != "" && c.cfg.TLS.Key != "" {
		c.logger.Info("Starting HTTPS server", "cert", c.cfg.TLS.Cert, "key", c.cfg.TLS.Key)
		if err := srv.ListenAndServeTLS(c.cfg.TLS.Cert, c.cfg.TLS.Key); err != http.ErrServerClosed {
			c.logger.Error("HTTPS server error", "error", err)
		}
	} else {
		c.logger.Info("TLS cert or key not specified in config. Starting HTTP server (insecure).")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			c.logger.Error("HTTP server error", "error", err)
		}
	}

	stopWg := sync.WaitGroup{}

	stopWg.Add(1)
	go func() {
		defer stopWg.Done()
		c.eventSubscribersLock.Lock()
		defer c.eventSubscribersLock.Unlock()
		for _, subscribers := range c.eventSubscribers {
			for session := range subscribers {
				if session.conn != nil {
					if err := session.conn.Close(); err != nil {
						c.logger.Error("Error closing WebSocket connection", "error", err)
					}
				}
			}
		}
		c.eventSubscribers = make(map[string]map[*eventSession]bool)
	}()

	stopWg.Add(1)
	go func() {
		defer stopWg.Done()
		for _, limiter := range c.rateLimiters {
			limiter.Stop()
		}
	}()

	c.logger.Info("Waiting for server to stop - this may take a moment")
	stopWg.Wait()

	c.logger.Info("Server stopped")
}
