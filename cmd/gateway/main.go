// Command gateway bridges an NDID-style identity verification platform and a
// demo RP/IdP web client. It ingests the platform's webhook callbacks,
// decides follow-up protocol actions, answers accessor signing challenges and
// relays every event to a realtime UI channel.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/crossknight/examples/pkg/accessor"
	"github.com/crossknight/examples/pkg/callback"
	"github.com/crossknight/examples/pkg/httpx"
	"github.com/crossknight/examples/pkg/metrics"
	"github.com/crossknight/examples/pkg/ndid"
	"github.com/crossknight/examples/pkg/ratelimit"
	"github.com/crossknight/examples/pkg/store"
	"github.com/crossknight/examples/pkg/stream"
	"github.com/crossknight/examples/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	NDID               *ndid.Client
	Bus                *stream.Bus
	Relay              *Relay
	Accessors          *accessor.Store
	Cache              store.Cache
	Redis              *redis.Client
	Metrics            *metrics.Registry
	RateLimiter        ratelimit.Limiter
	RateLimitEnabled   bool
	RateLimitPerMinute int

	// CallbackBase is the externally reachable prefix of the callback
	// listener, as registered with the platform.
	CallbackBase       string
	RegisterRetryDelay time.Duration

	MaxRequestBodyBytes   int64
	DefaultMode           int
	DefaultMinIdp         int
	DefaultRequestTimeout int
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayListenFunc func(server *http.Server) error
type gatewayStartLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openRedisFnG   = openRedis
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG  = func(s *Server) {
		go s.registerCallbacksLoop(context.Background())
	}
)

func main() {
	if err := runGateway(initTelemetryG, openRedisFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	initTelemetry gatewayInitTelemetryFunc,
	openRedis gatewayOpenRedisFunc,
	listen gatewayListenFunc,
	startLoops gatewayStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	accessors := accessor.NewStore(cache)
	if path := env("ACCESSOR_KEYS_FILE", ""); path != "" {
		if err := accessors.LoadFile(path); err != nil {
			return err
		}
	}

	callbackIP := env("NDID_CALLBACK_IP", "localhost")
	callbackPort := env("NDID_CALLBACK_PORT", "5000")
	webPort := env("SERVER_PORT", "8080")
	maxBody := int64(envInt("MAX_REQUEST_BODY_BYTES", 2<<20))
	if maxBody <= 0 {
		maxBody = 2 << 20
	}

	s := &Server{
		NDID: &ndid.Client{
			HTTP:       telemetry.InstrumentClient(&http.Client{Timeout: time.Millisecond * time.Duration(envInt("NDID_API_TIMEOUT_MS", 10000))}),
			BaseURL:    env("NDID_API_URL", "http://localhost:8443"),
			Retries:    envInt("NDID_API_RETRIES", 1),
			RetryDelay: time.Millisecond * time.Duration(envInt("NDID_API_RETRY_DELAY_MS", 100)),
		},
		Bus:                   stream.NewBus(),
		Relay:                 &Relay{},
		Accessors:             accessors,
		Cache:                 cache,
		Redis:                 redisClient,
		Metrics:               metrics.NewRegistry(),
		RateLimitEnabled:      env("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerMinute:    envInt("RATE_LIMIT_PER_MINUTE", 120),
		CallbackBase:          "http://" + callbackIP + ":" + callbackPort,
		RegisterRetryDelay:    envDurationSec("CALLBACK_REGISTER_RETRY_SEC", 5),
		MaxRequestBodyBytes:   maxBody,
		DefaultMode:           envInt("DEFAULT_REQUEST_MODE", 3),
		DefaultMinIdp:         envInt("DEFAULT_MIN_IDP", 1),
		DefaultRequestTimeout: envInt("DEFAULT_REQUEST_TIMEOUT_SEC", 86400),
	}
	if s.RateLimitEnabled {
		window := envDurationSec("RATE_LIMIT_WINDOW_SEC", 60)
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, window)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(window)
		}
	}

	// The orchestrator subscribes before the relay so protocol decisions for
	// an event happen before the event reaches the realtime client.
	s.Bus.Subscribe(s.handleCallbackEvent)
	s.Bus.Subscribe(s.relayCallbackEvent)

	if startLoops != nil {
		startLoops(s)
	}

	callbackSrv := &http.Server{Addr: ":" + callbackPort, Handler: s.callbackRouter()}
	webSrv := &http.Server{Addr: ":" + webPort, Handler: s.webRouter()}

	errc := make(chan error, 2)
	go func() { errc <- listen(callbackSrv) }()
	go func() { errc <- listen(webSrv) }()
	log.Printf("gateway: platform callbacks on :%s, web client on :%s", callbackPort, webPort)
	return <-errc
}

func (s *Server) callbackRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.limitRequestBodyMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway-callbacks"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "gateway-callbacks"})
	})
	r.Post("/idp/request", s.fixedKindCallback(callback.KindIncomingRequest))
	r.Post("/idp/identity", s.fixedKindCallback(callback.KindIdentityCreated))
	r.Post("/idp/identity/accessor", s.fixedKindCallback(callback.KindAccessorAdded))
	r.Post("/idp/response", s.classifiedCallback)
	r.Post("/idp/accessor/encrypt", s.accessorEncrypt)
	r.Post("/rp/request/close", s.classifiedCallback)
	r.Post("/rp/request/{reference_id}", s.classifiedCallback)
	return r
}

func (s *Server) webRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "*")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway-web"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "gateway-web"})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	r.Post("/createRequest", s.createRequest)
	r.Get("/ws", s.serveRealtime)
	return r
}

func openRedis(ctx context.Context) (*redis.Client, error) {
	addr := env("REDIS_ADDR", "")
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		srv.Metrics.ObserveEndpoint(r.Method+" "+r.URL.Path, rec.code, time.Since(start))
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
