package app

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/crensch/pushgate/internal/config"
	"github.com/crensch/pushgate/internal/dispatch"
	"github.com/crensch/pushgate/internal/endpoint"
	"github.com/crensch/pushgate/internal/router"
	"github.com/crensch/pushgate/internal/secrets"
	"github.com/crensch/pushgate/internal/store"
	"github.com/crensch/pushgate/internal/token"
)

func run() int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "./Pushgatefile", "path to config file")
	pidFile := fs.String("pid-file", "", "write process PID to this file and refuse to start when it points at a live process")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	dotenvPath := fs.String("dotenv", "", "load environment variables from this file before reading the config (dev convenience)")
	watch := fs.Bool("watch", false, "watch the config file and reload on change")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return 2
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	slog.SetDefault(logger)

	if strings.TrimSpace(*dotenvPath) != "" {
		if err := loadDotenv(*dotenvPath); err != nil {
			logger.Error("dotenv_failed", slog.String("path", *dotenvPath), slog.Any("err", err))
			return 1
		}
	}

	releasePIDFile, err := claimPIDFile(*pidFile)
	if err != nil {
		logger.Error("pid_file_failed", slog.Any("err", err))
		return 1
	}
	defer releasePIDFile()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load_config_failed", slog.String("path", *configPath), slog.Any("err", err))
		return 1
	}
	compiled, res := config.Compile(cfg)
	if !res.OK() {
		logger.Error("compile_config_failed", slog.Any("err", res.Err()))
		return 1
	}
	for _, w := range res.Warnings {
		logger.Warn("config_warning", slog.String("warning", w))
	}

	appMetrics := newRuntimeMetrics()
	start := time.Now()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics.setTracingEnabled(compiled.Tracing.Enabled)
	if compiled.Tracing.Enabled {
		shutdownTracing, err := initTracing(ctx, compiled.Tracing, func(error) {
			appMetrics.incTracingExportErrors()
		})
		if err != nil {
			appMetrics.incTracingInitFailures()
			logger.Error("tracing_init_failed", slog.Any("err", err))
			return 1
		}
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Warn("tracing_shutdown_failed", slog.Any("err", err))
			}
		}()
		logger.Info("tracing_enabled", slog.String("collector", compiled.Tracing.Collector))
	}

	keys, err := secrets.LoadRefs(compiled.Endpoint.TokenKeyRefs)
	if err != nil {
		logger.Error("token_keys_failed", slog.Any("err", err))
		return 1
	}
	codec, err := token.NewCodec(keys)
	if err != nil {
		logger.Error("token_keys_failed", slog.Any("err", err))
		return 1
	}

	st, err := newSubscriberStore(compiled.Store)
	if err != nil {
		logger.Error("open_store_failed", slog.String("kind", compiled.Store.Kind), slog.Any("err", err))
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("close_store_failed", slog.Any("err", err))
		}
	}()
	logger.Info("store_ready", slog.String("kind", compiled.Store.Kind))

	client := tracingHTTPClient(compiled.Tracing.Enabled)
	registry, err := buildRouters(compiled.Routers, client, logger)
	if err != nil {
		logger.Error("build_routers_failed", slog.Any("err", err))
		return 1
	}
	logger.Info("routers_ready", slog.Any("types", registry.Types()))

	state := newRuntimeState(compiled)

	coordinator := &dispatch.Coordinator{
		Tokens:              codec,
		Store:               st,
		Registry:            registry,
		Logger:              logger.With(slog.String("component", "dispatch")),
		RequireSignatureFor: state.signaturePolicy,
		ObserveResult:       appMetrics.observeDispatch,
	}

	srv := endpoint.NewServer(coordinator)
	srv.Logger = logger.With(slog.String("component", "endpoint"))
	srv.LimitsFor = state.limits
	srv.ObserveReject = appMetrics.observeReject

	var handler http.Handler = srv
	handler = wrapTracingHandler(compiled.Tracing.Enabled, "endpoint", handler)
	handler = withAccessLog(logger.With(slog.String("component", "endpoint")), handler)

	endpointSrv := &http.Server{Handler: handler}
	endpointLn, err := net.Listen("tcp", compiled.Listen)
	if err != nil {
		logger.Error("listen_failed", slog.String("addr", compiled.Listen), slog.Any("err", err))
		return 1
	}
	serveOnListener(logger, "endpoint", endpointSrv, endpointLn, cancel)
	logger.Info("endpoint_listening", slog.String("addr", endpointLn.Addr().String()))

	servers := []*http.Server{endpointSrv}
	statusMux := http.NewServeMux()
	statusMux.Handle("/health", newHealthzHandler())
	statusMux.Handle("/healthz", newHealthzHandler())
	statusMux.Handle("/status", newStatusHandler(version, start, compiled.Store.Kind, registry.Types()))
	statusMux.Handle("/metrics", newMetricsHandler(version, start, appMetrics))
	statusSrv := &http.Server{Handler: statusMux}
	statusLn, err := net.Listen("tcp", compiled.StatusListen)
	if err != nil {
		logger.Error("listen_failed", slog.String("addr", compiled.StatusListen), slog.Any("err", err))
		return 1
	}
	serveOnListener(logger, "status", statusSrv, statusLn, cancel)
	logger.Info("status_listening", slog.String("addr", statusLn.Addr().String()))
	servers = append(servers, statusSrv)

	// SIGHUP and --watch both funnel through the same guarded reload.
	var reloadMu sync.Mutex
	running := compiled
	doReload := func(trigger string) {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		running, _ = reloadConfig(*configPath, running, state, logger, trigger)
	}

	sighupCh := make(chan os.Signal, 1)
	signal.Notify(sighupCh, syscall.SIGHUP)
	defer signal.Stop(sighupCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighupCh:
				doReload("sighup")
			}
		}
	}()

	if *watch {
		go watchConfig(ctx, *configPath, logger, func() { doReload("watch") })
	}

	<-ctx.Done()
	logger.Info("shutting_down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown_failed", slog.Any("err", err))
		}
	}

	return 0
}

// runtimeState holds the config-derived values a reload may change while
// the listeners stay up.
type runtimeState struct {
	mu               sync.RWMutex
	maxBodyBytes     int64
	requireSignature bool
}

func newRuntimeState(compiled *config.Compiled) *runtimeState {
	s := &runtimeState{}
	s.update(compiled)
	return s
}

func (s *runtimeState) update(compiled *config.Compiled) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxBodyBytes = compiled.Endpoint.MaxBodyBytes
	s.requireSignature = compiled.Endpoint.RequireSignature
}

func (s *runtimeState) limits() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxBodyBytes
}

func (s *runtimeState) signaturePolicy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requireSignature
}

func newSubscriberStore(cs config.CompiledStore) (store.Store, error) {
	switch cs.Kind {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cs.Path)
	case "postgres":
		return store.NewPostgresStore(cs.DSN)
	case "badger":
		return store.NewBadgerStore(cs.Dir)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cs.Kind)
	}
}

func buildRouters(crs []config.CompiledRouter, client *http.Client, logger *slog.Logger) (*router.Registry, error) {
	routers := make([]router.Router, 0, len(crs))
	for _, cr := range crs {
		httpClient := client
		if cr.Timeout > 0 {
			c := &http.Client{Timeout: cr.Timeout}
			if client != nil {
				c.Transport = client.Transport
			}
			httpClient = c
		}

		switch cr.Type {
		case router.RouterTypeWebPush:
			routers = append(routers, &router.WebPushRouter{
				Client: httpClient,
				Logger: logger.With(slog.String("router", cr.Type)),
			})
		case router.RouterTypeFCM:
			key, err := secrets.LoadRef(cr.ServerKeyRef)
			if err != nil {
				return nil, fmt.Errorf("router %s: server_key: %w", cr.Type, err)
			}
			routers = append(routers, &router.FCMRouter{
				Client:    httpClient,
				Endpoint:  cr.Endpoint,
				ServerKey: string(key),
				DryRun:    cr.DryRun,
				Logger:    logger.With(slog.String("router", cr.Type)),
			})
		case router.RouterTypeAPNS:
			pem, err := os.ReadFile(cr.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("router %s: key_file: %w", cr.Type, err)
			}
			rt, err := router.NewAPNSRouter(pem, cr.KeyID, cr.TeamID, cr.Topic, cr.Sandbox)
			if err != nil {
				return nil, fmt.Errorf("router %s: %w", cr.Type, err)
			}
			rt.Logger = logger.With(slog.String("router", cr.Type))
			routers = append(routers, rt)
		default:
			return nil, fmt.Errorf("unknown router type %q", cr.Type)
		}
	}
	return router.NewRegistry(routers...)
}
