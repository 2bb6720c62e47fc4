// Command curiefense-engine is the reference proxy embedder (spec section
// 6): it loads a configuration snapshot from disk, wires the optional
// Redis-backed store and Geo-IP provider, and serves the inspection engine
// over HTTP via internal/api. The core engine itself has no CLI (spec
// section 6) - everything in this file is the out-of-scope "configuration
// loading from disk" / "external key-value store client" / "geo-IP lookup
// provider" collaborators spec section 1 names, given one concrete
// implementation to demonstrate the wiring.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curiefense/curiefense-go/internal/aggregator"
	"github.com/curiefense/curiefense-go/internal/api"
	"github.com/curiefense/curiefense-go/internal/config"
	"github.com/curiefense/curiefense-go/internal/embedapi"
	"github.com/curiefense/curiefense-go/internal/geoprovider"
	"github.com/curiefense/curiefense-go/internal/identity"
	"github.com/curiefense/curiefense-go/internal/logging"
	"github.com/curiefense/curiefense-go/internal/store/redisstore"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	configPath := flag.String("config", "/cf-config/current/config", "path to the security policy config file (.yaml or .hcl)")
	logLevel := flag.String("loglevel", "info", "process log level: debug, info, warn, error")
	cityDB := flag.String("geoip-city-db", os.Getenv("GEOIP_CITY_DB"), "path to a GeoLite2-City.mmdb database")
	asnDB := flag.String("geoip-asn-db", os.Getenv("GEOIP_ASN_DB"), "path to a GeoLite2-ASN.mmdb database")
	anonDB := flag.String("geoip-anonymous-db", os.Getenv("GEOIP_ANONYMOUS_DB"), "path to a GeoIP2-Anonymous-IP.mmdb database")
	flag.Parse()

	logging.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseSlogLevel(*logLevel)})))

	snapStore := &snapshotStore{}
	if err := snapStore.reload(*configPath); err != nil {
		logging.Error("initial configuration load failed", "path", *configPath, "error", err)
		os.Exit(1)
	}

	geo, geoErrs := geoprovider.Open(geoprovider.Config{
		CityDBPath:        *cityDB,
		ASNDBPath:         *asnDB,
		AnonymousIPDBPath: *anonDB,
	})
	for _, e := range geoErrs {
		logging.Error("geo-IP database failed to open", "error", e)
	}
	defer geo.Close()

	var visitor identity.VisitorOracle
	redis, err := redisstore.New()
	if err != nil {
		logging.Error("redis store unavailable, visitor-id fingerprinting fails closed", "error", err)
	} else {
		defer redis.Close()
		visitor = identity.VisitorOracle{Store: redis}
	}

	agg := aggregator.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(aggregator.NewCollector(agg))

	engine := &embedapi.Engine{
		Config:      func(path string) *config.Snapshot { return snapStore.load(path) },
		Grasshopper: nil, // no JS-challenge oracle implementation in the pack; Challenge sections default-block (spec section 4.7)
		Visitor:     visitor,
		Geo:         geo.Lookup,
		Aggregator:  agg,
	}

	router := mux.NewRouter()
	api.NewHandlers(engine).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	cfg := api.DefaultServerConfig()
	server := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go watchReloadSignal(snapStore, *configPath)

	logging.Info("curiefense-engine listening", "addr", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// snapshotStore holds the hot-reloadable configuration pointer (spec
// section 5: "hot-reload swaps the whole snapshot atomically").
type snapshotStore struct {
	current atomic.Pointer[config.Snapshot]
}

func (s *snapshotStore) load(_ string) *config.Snapshot {
	return s.current.Load()
}

func (s *snapshotStore) reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var snap *config.Snapshot
	if strings.HasSuffix(path, ".hcl") {
		snap, err = config.DecodeHCL(filepath.Base(path), data)
	} else {
		snap, err = config.DecodeYAML(data)
	}
	if err != nil {
		return fmt.Errorf("decoding config file: %w", err)
	}

	s.current.Store(snap)
	return nil
}

// watchReloadSignal triggers a reload on SIGHUP, following the teacher's
// own reload-on-signal convention (cmd/reload.go sends SIGHUP to trigger a
// reload; here the same process handles its own signal directly rather
// than relaying through a PID file, since this binary has no daemon/client
// split).
func watchReloadSignal(s *snapshotStore, path string) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	for range sig {
		if err := s.reload(path); err != nil {
			logging.Error("config reload failed, keeping previous snapshot", "error", err)
			continue
		}
		logging.Info("config reloaded", "path", path)
	}
}

func parseSlogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "err", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
