package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	entrycache "github.com/always-cache/entry-cache"
	"github.com/always-cache/entry-cache/cache"
	cachekey "github.com/always-cache/entry-cache/pkg/cache-key"
	"github.com/always-cache/entry-cache/transport"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// CLI flags
	configFlag         string
	originFlag         string
	hostFlag           string
	listenFlag         string
	dataDirFlag        string
	dbFilenameFlag     string
	persistFlag        bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "YAML config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to fetch from")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.StringVar(&listenFlag, "listen", "", "Address to listen on (default :8080)")
	flag.StringVar(&dataDirFlag, "data-dir", "", "Directory for entry data files")
	flag.StringVar(&dbFilenameFlag, "db", "", "Metadata DB file name (use 'memory' for in-memory db)")
	flag.BoolVar(&persistFlag, "persist", false, "Persist entries across restarts")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

// loadConfig reads the config file, if any, and applies the flags given on
// the command line over it.
func loadConfig() (Config, error) {
	config := defaultConfig()
	if configFlag != "" {
		var err error
		if config, err = Load(configFlag); err != nil {
			return config, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			config.Origin = originFlag
		case "host":
			config.Host = hostFlag
		case "listen":
			config.Listen = listenFlag
		case "data-dir":
			config.DataDir = dataDirFlag
		case "db":
			config.DB = dbFilenameFlag
		case "persist":
			config.Persist = persistFlag
		case "log-file":
			config.Log.File = logFilenameFlag
		}
	})
	return config, config.Validate()
}

// newLogger logs to stdout, and also to a rotated log file if configured.
func newLogger(config LogConfig, level zerolog.Level) (zerolog.Logger, io.Closer) {
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	var closer io.Closer = io.NopCloser(nil)
	if config.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
			LocalTime:  true,
		}
		logOutputs = append(logOutputs, rotator)
		closer = rotator
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	logger := zerolog.New(multiWriter).Level(level).
		With().Timestamp().Str("version", version).Logger()
	return logger, closer
}

func newProvider(db string) (cache.CacheProvider, error) {
	if db == "memory" {
		db = "file::memory:?cache=shared"
	}
	return cache.NewSQLiteCache(db)
}

func main() {
	flag.Parse()

	config, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	logger, logCloser := newLogger(config.Log, logLevel)
	defer logCloser.Close()
	log.Logger = logger

	provider, err := newProvider(config.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open metadata DB")
	}
	defer provider.Close()

	originURL, _ := config.OriginURL()
	keyer := cachekey.NewCacheKeyer(originURL.Host, originURL)
	keyer.Host = config.Host
	refreshInterval, _ := config.GetRefreshInterval()

	store, err := entrycache.Open(entrycache.Config{
		DataDir:          config.DataDir,
		MemoryThreshold:  config.MemoryThreshold,
		Transport:        &transport.HTTPTransport{Logger: &logger},
		Provider:         provider,
		Logger:           &logger,
		ResponseModifier: config.Rules.Modifier(logger),
		RefreshInterval:  refreshInterval,
		RefreshPrefix:    keyer.MethodPrefix(http.MethodGet),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open store")
	}
	defer store.Close()

	srv := &server{
		store: store,
		keyer: keyer,
		policy: entrycache.Policy{
			Persistable:           config.Persist,
			IgnoreTransportErrors: config.IgnoreTransportErrors,
		},
		now: time.Now,
		log: logger,
	}
	httpServer := &http.Server{Addr: config.Listen, Handler: srv.routes()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Serving %s from %s (with hostname '%s')", config.Listen, originURL.String(), config.Host)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server stopped")
	}
}
