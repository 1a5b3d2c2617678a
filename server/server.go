package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"musicsquare/cache"
	"musicsquare/config"
	"musicsquare/core/catalog"
	"musicsquare/core/edge"
	"musicsquare/core/hub"
	"musicsquare/core/player"
	"musicsquare/core/resolver"
	"musicsquare/core/search"
	"musicsquare/db"
	"musicsquare/logger"
	"musicsquare/model"
	"musicsquare/repository"
	"musicsquare/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Components 服务依赖的外部组件，由 Build 根据配置创建，测试中可以直接构造
type Components struct {
	Registry  *catalog.Registry
	Resolver  *resolver.Resolver
	Rewriter  *edge.Rewriter
	EdgeCache edge.Cache
	History   repository.HistoryRepository
	// Upstream 代理访问第三方源站使用的 client
	Upstream *http.Client
}

// Server HTTP 服务
type Server struct {
	cfg        *config.Config
	comp       *Components
	aggregator *search.Aggregator
	proxy      *edge.Proxy
	relay      *edge.Relay
	tunehub    *edge.TuneHub
	hub        *hub.Hub
	sessions   *hub.Manager
	upgrader   websocket.Upgrader
}

// Build 按配置连接 Redis/MinIO/MySQL，未启用或连接失败时退回内存实现。
// 返回的 cleanup 关闭所有连接
func Build(ctx context.Context, cfg *config.Config) (*Components, func()) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	rewriter := edge.NewRewriter(cfg.PublicBaseURL)
	upstream := edge.NewUpstreamClient(0)

	var requester catalog.Requester
	if cfg.CatalogRelayURL != "" {
		requester = catalog.NewRelayRequester(cfg.CatalogRelayURL, edge.NewPlainClient(cfg.UpstreamTimeout))
		logger.Info("[Server] catalog requests relayed", logger.String("relay", cfg.CatalogRelayURL))
	} else {
		requester = catalog.NewDirectRequester(edge.NewUpstreamClient(cfg.UpstreamTimeout))
	}
	registry := catalog.NewRegistry(
		catalog.NewNeteaseAdapter(cfg.NeteaseAPIURL, requester),
		catalog.NewQQAdapter(requester),
		catalog.NewKuwoAdapter(requester, rewriter),
	)

	backend := resolver.NewTuneHubBackend(cfg.TuneHubAPIURL, cfg.TuneHubAPIKey, cfg.UpstreamTimeout)
	res := resolver.New(backend, rewriter, model.Quality(cfg.PreferredQuality))

	comp := &Components{
		Registry: registry,
		Resolver: res,
		Rewriter: rewriter,
		Upstream: upstream,
	}

	comp.EdgeCache = buildEdgeCache(ctx, cfg, &closers)
	comp.History = buildHistory(cfg, &closers)
	return comp, cleanup
}

func buildEdgeCache(ctx context.Context, cfg *config.Config, closers *[]func()) edge.Cache {
	memory := cache.NewMemoryEdgeCache(cfg.EdgeMemoryEntries)
	if !cfg.RedisEnabled {
		logger.Info("[Server] edge cache: memory", logger.Int("entries", cfg.EdgeMemoryEntries))
		return memory
	}
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("[Server] redis unavailable, edge cache falls back to memory", logger.ErrorField(err))
		return memory
	}
	*closers = append(*closers, func() { cache.CloseRedis() })

	var objects cache.ObjectStore
	if cfg.MinioEnabled {
		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			logger.Warn("[Server] minio unavailable, large bodies are not cached", logger.ErrorField(err))
		} else {
			objects = store
			logger.Info("[Server] edge object store: minio", logger.String("bucket", store.Bucket()))
		}
	}
	logger.Info("[Server] edge cache: redis",
		logger.String("addr", cfg.RedisHost+":"+cfg.RedisPort),
		logger.Int64("objectThreshold", cfg.EdgeObjectThreshold))
	return cache.NewRedisEdgeCache(cache.RedisClient, objects, cfg.EdgeObjectThreshold)
}

func buildHistory(cfg *config.Config, closers *[]func()) repository.HistoryRepository {
	if !cfg.DBEnabled {
		logger.Info("[Server] play history: memory")
		return repository.NewMemoryHistoryRepository()
	}
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Warn("[Server] database unavailable, play history kept in memory", logger.ErrorField(err))
		return repository.NewMemoryHistoryRepository()
	}
	*closers = append(*closers, func() { db.CloseGormDB() })
	if err := db.AutoMigrateModels(&model.PlayHistory{}); err != nil {
		logger.Warn("[Server] migrate play history failed", logger.ErrorField(err))
	}
	return repository.NewGormHistoryRepository(db.GormDB)
}

// New 组装服务
func New(cfg *config.Config, comp *Components) *Server {
	if comp.Upstream == nil {
		comp.Upstream = edge.NewUpstreamClient(0)
	}
	if comp.Rewriter == nil {
		comp.Rewriter = edge.NewRewriter(cfg.PublicBaseURL)
	}
	if comp.EdgeCache == nil {
		comp.EdgeCache = cache.NewMemoryEdgeCache(cfg.EdgeMemoryEntries)
	}
	if comp.History == nil {
		comp.History = repository.NewMemoryHistoryRepository()
	}

	s := &Server{
		cfg:        cfg,
		comp:       comp,
		aggregator: search.NewAggregator(comp.Registry, cfg.SearchTimeout),
		proxy:      edge.NewProxy(comp.Upstream, comp.EdgeCache, cfg.EdgeCacheTTL, cfg.EdgeCacheMaxBody),
		relay:      edge.NewRelay(comp.Upstream, cfg.RelayRateLimit, cfg.RelayBurst),
		tunehub:    edge.NewTuneHub(cfg.TuneHubAPIURL, cfg.TuneHubAPIKey, cfg.UpstreamTimeout),
		hub:        hub.NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	history := comp.History
	s.sessions = hub.NewManager(hub.Deps{
		Hub:        s.hub,
		Resolver:   comp.Resolver,
		Aggregator: s.aggregator,
		Toplists:   comp.Registry,
		Rewriter:   comp.Rewriter,
		History: func(userID int64) player.HistoryStore {
			return repository.NewUserHistory(history, userID)
		},
	})
	return s
}

// Router 所有路由
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	// 聚合搜索、榜单、歌单导入、解析
	router.HandleFunc("/api/search", s.SearchHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/toplists/{source}", s.ToplistsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/toplists/{source}/{id}", s.ToplistTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/playlists/import", s.ImportPlaylistHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/resolve", s.ResolveHandler).Methods(http.MethodPost)

	// 播放会话
	router.HandleFunc("/api/session/ws", s.AuthMiddleware(s.SessionWSHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/session", s.AuthMiddleware(s.SessionStateHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/session", s.AuthMiddleware(s.LogoutHandler)).Methods(http.MethodDelete)

	// edge 代理
	router.Handle("/api/proxy", s.proxy).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/proxy", s.proxy).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/api/tunehub/request", s.relay).Methods(http.MethodPost)
	router.HandleFunc("/api/tunehub/parse", s.tunehub.ParseHandler).Methods(http.MethodPost)
	router.PathPrefix("/api/tunehub/methods").HandlerFunc(s.tunehub.MethodsHandler).Methods(http.MethodGet)

	router.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)

	// 预检请求不会匹配到带 Methods 限制的路由，CORS 包在路由外层
	return corsMiddleware(router)
}

// corsMiddleware 添加 CORS 头，预检请求直接返回
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range, X-API-Key")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, X-Cache")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close 关闭所有会话和连接
func (s *Server) Close() {
	s.sessions.Close()
}

// Start 启动服务并阻塞到收到退出信号
func Start(cfg *config.Config) {
	comp, cleanup := Build(context.Background(), cfg)
	defer cleanup()

	s := New(cfg, comp)
	defer s.Close()

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     s.Router(),
		ReadTimeout: 30 * time.Second,
		// 音频流和 websocket 都是长连接，不设置写超时
		IdleTimeout: 120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("[Server] starting",
			logger.String("addr", server.Addr),
			logger.String("publicBase", cfg.PublicBaseURL),
			logger.Strings("sources", sourceNames(comp.Registry.Sources())))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("[Server] failed to start", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("[Server] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("[Server] forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("[Server] stopped")
}

func sourceNames(sources []model.Source) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return names
}
