package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/operator-dao/pkg/api"
	"github.com/psantana5/operator-dao/pkg/auth"
	"github.com/psantana5/operator-dao/pkg/config"
	"github.com/psantana5/operator-dao/pkg/governance"
	"github.com/psantana5/operator-dao/pkg/logging"
	"github.com/psantana5/operator-dao/pkg/metrics"
	"github.com/psantana5/operator-dao/pkg/middleware"
	"github.com/psantana5/operator-dao/pkg/ratelimit"
	"github.com/psantana5/operator-dao/pkg/shutdown"
	"github.com/psantana5/operator-dao/pkg/store"
	tlsutil "github.com/psantana5/operator-dao/pkg/tls"
	"github.com/psantana5/operator-dao/pkg/tracing"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "config file (default is $HOME/.operator-dao/daod.yaml)")
	port := flag.Int("port", 0, "API port (overrides server.port)")
	generateCert := flag.Bool("generate-cert", false, "Generate a self-signed certificate at server.tls.cert_file and exit")
	certHosts := flag.String("cert-hosts", "", "Comma-separated IPs or hostnames to add to the certificate SANs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *generateCert {
		hosts := splitList(*certHosts)
		if err := tlsutil.GenerateSelfSignedCert(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, "daod", hosts...); err != nil {
			logger.Fatal("Failed to generate certificate", logging.Fields{"error": err.Error()})
		}
		logger.Info("Certificate generated", logging.Fields{
			"cert": cfg.Server.TLS.CertFile,
			"key":  cfg.Server.TLS.KeyFile,
			"sans": hosts,
		})
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Daemon stopped with error", logging.Fields{"error": err.Error()})
	}
	logger.Info("Daemon stopped")
	logger.Close()
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx := context.Background()
	mgr := shutdown.New(cfg.ShutdownTimeout(), logger.WithField("component", "shutdown"))

	logger.Info("Starting operator DAO daemon", logging.Fields{
		"version":   version,
		"port":      cfg.Server.Port,
		"store":     cfg.Store.Type,
		"threshold": cfg.Governance.Threshold,
	})

	provider, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.Tracing.Service,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return err
	}
	mgr.Register("tracer", provider.Shutdown)

	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return err
	}
	st, err := store.NewStore(storeCfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	mgr.Register("store", shutdown.CloseResource(st, "store"))
	if cfg.Store.Type == "memory" {
		logger.Warn("Using in-memory store, governance state will not survive restarts")
	}

	catalog, err := governance.NewCatalog(cfg.Actions)
	if err != nil {
		return fmt.Errorf("failed to build action catalog: %w", err)
	}

	opts := []governance.Option{
		governance.WithThreshold(cfg.Governance.Threshold),
		governance.WithExtensionAllowlist(cfg.Governance.EnforceExtensionAllowlist),
		governance.WithLogger(logger.WithField("component", "governance")),
		governance.WithTracer(provider.TracerFor("governance")),
	}
	var m *metrics.Metrics
	if cfg.Server.EnableMetrics {
		m = metrics.New()
		opts = append(opts, governance.WithMetrics(m))
	}
	if !cfg.Governance.EnforceExtensionAllowlist {
		logger.Warn("Extension allow-list disabled, any catalog action may execute")
	}

	engine, err := governance.New(st, catalog, opts...)
	if err != nil {
		return err
	}

	if cfg.Governance.AutoConstruct {
		if err := autoConstruct(ctx, engine, cfg.Governance, logger); err != nil {
			return err
		}
	}

	keys := auth.NewKeyRing()
	for _, c := range cfg.Callers {
		if err := keys.Add(c.Address, c.KeyHash); err != nil {
			return err
		}
	}
	if keys.Len() == 0 {
		logger.Warn("No callers configured, running in open mode: X-Caller-Address is trusted as-is")
	} else {
		logger.Info("Caller authentication enabled", logging.Fields{"callers": keys.Len()})
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(tracing.HTTPMiddleware(provider))
	if m != nil {
		router.Use(m.HTTPMiddleware)
	}
	router.Use(middleware.CallerMiddleware(keys, logger.WithField("component", "auth")))
	// Buckets are keyed by the verified caller, so the limiter follows auth
	if cfg.RateLimit.RPS > 0 {
		limiter := ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		router.Use(limiter.Middleware(middleware.CallerKey(ratelimit.IPKeyFunc)))
		if ttl := cfg.IdleTTL(); ttl > 0 {
			go limiter.RunEviction(ttl, ttl, mgr.Done())
		}
	}
	api.NewGovernanceHandler(engine, st, logger.WithField("component", "api")).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if cfg.Server.TLS.Enabled {
		if err := configureTLS(srv, cfg.Server.TLS, logger); err != nil {
			return err
		}
	} else {
		logger.Warn("TLS disabled; API keys travel in clear text")
	}

	if m != nil {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", m.Handler()).Methods("GET")
		metricsSrv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:      metricsRouter,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go serve(metricsSrv, false, "metrics", logger, mgr)
		mgr.Register("metrics server", shutdown.StopHTTPServer(metricsSrv, "metrics"))
	}

	go serve(srv, cfg.Server.TLS.Enabled, "api", logger, mgr)
	mgr.Register("api server", shutdown.StopHTTPServer(srv, "api"))

	return mgr.Wait(ctx)
}

// autoConstruct runs the bootstrap once on first start. A store that is
// already constructed is left untouched.
func autoConstruct(ctx context.Context, engine *governance.Engine, gc config.GovernanceConfig, logger *logging.Logger) error {
	state, err := engine.State(ctx)
	if err != nil {
		return err
	}
	if state.Constructed {
		logger.Info("DAO already constructed", logging.Fields{
			"bootstrap_ref":  state.BootstrapRef,
			"constructed_by": state.ConstructedBy,
		})
		return nil
	}
	if _, err := engine.Construct(ctx, gc.Deployer, gc.BootstrapRef); err != nil {
		if errors.Is(err, governance.ErrAlreadyConstructed) {
			return nil
		}
		return fmt.Errorf("auto construct: %w", err)
	}
	return nil
}

func configureTLS(srv *http.Server, tc config.TLSConfig, logger *logging.Logger) error {
	if tc.AutoGenerate {
		created, err := tlsutil.EnsureCert(tc.CertFile, tc.KeyFile, "daod")
		if err != nil {
			return fmt.Errorf("failed to generate certificate: %w", err)
		}
		if created {
			logger.Warn("Generated self-signed certificate", logging.Fields{"cert": tc.CertFile})
		}
	}
	tlsConfig, err := tlsutil.ServerConfig(tlsutil.Config{
		CertFile:          tc.CertFile,
		KeyFile:           tc.KeyFile,
		CAFile:            tc.CAFile,
		RequireClientCert: tc.RequireClientCert,
	})
	if err != nil {
		return err
	}
	srv.TLSConfig = tlsConfig
	logger.Info("TLS enabled", logging.Fields{"mtls": tc.RequireClientCert})
	return nil
}

func serve(srv *http.Server, useTLS bool, name string, logger *logging.Logger, mgr *shutdown.Manager) {
	logger.Info("Server listening", logging.Fields{"server": name, "addr": srv.Addr})
	var err error
	if useTLS {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", logging.Fields{"server": name, "error": err.Error()})
		mgr.Trigger()
	}
}

func newLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	level := logging.ParseLevel(lc.Level)
	if lc.Dir == "" {
		return logging.NewLogger(level, lc.JSON), nil
	}
	return logging.NewFileLogger(lc.Dir, "daod", "daemon", level, lc.JSON)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
