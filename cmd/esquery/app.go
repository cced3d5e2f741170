package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/internal/config"
	"github.com/gabisonia/go-esquery/internal/logger"
	"github.com/gabisonia/go-esquery/internal/metrics"
	"github.com/gabisonia/go-esquery/queryfile"
	"github.com/gabisonia/go-esquery/stores/elastic"
	"github.com/gabisonia/go-esquery/stores/memory"
)

type app struct {
	cfg    config.Config
	logger *slog.Logger
	conn   *esquery.Connection
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if indexFlag != "" {
		cfg.Elastic.Index = indexFlag
	}
	log := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return &app{cfg: cfg, logger: log}, nil
}

func (a *app) dispatcher() (esquery.Dispatcher, error) {
	switch engineFlag {
	case "memory":
		return memory.NewEngine(memory.Options{Logger: a.logger}), nil
	case "elastic", "":
		return elastic.NewClient(elastic.Options{
			Hosts:             a.cfg.Elastic.Hosts,
			Username:          a.cfg.Elastic.Username,
			Password:          a.cfg.Elastic.Password,
			Timeout:           a.cfg.Elastic.Timeout,
			RequestsPerSecond: a.cfg.Elastic.RequestsPerSecond,
			Burst:             a.cfg.Elastic.Burst,
			UseMappingTypes:   a.cfg.Elastic.UseMappingTypes,
			Refresh:           a.cfg.Elastic.Refresh,
			Logger:            a.logger,
		})
	default:
		return nil, fmt.Errorf("unknown engine %q", engineFlag)
	}
}

func (a *app) connect() (*esquery.Connection, error) {
	if a.conn != nil {
		return a.conn, nil
	}
	if a.cfg.Elastic.Index == "" {
		return nil, fmt.Errorf("no index configured: set --index or elastic.index")
	}
	d, err := a.dispatcher()
	if err != nil {
		return nil, err
	}
	opts := esquery.ConnectionOptions{
		Logger:     a.logger,
		OnDispatch: metrics.ObserveDispatch,
	}
	if a.cfg.Cache.Enabled {
		opts.Cache = &esquery.CachingCompilerOptions{
			MaxSize:  a.cfg.Cache.MaxSize,
			TTL:      a.cfg.Cache.TTL,
			OnLookup: metrics.ObserveCacheLookup,
		}
	}
	conn, err := esquery.NewConnection(d, a.cfg.Elastic.Index, opts)
	if err != nil {
		return nil, err
	}
	a.conn = conn
	return conn, nil
}

func (a *app) close() {
	if a.conn != nil {
		a.conn.Close()
	}
}

// readQuery loads a query document from path, or stdin for "-" or no path.
func readQuery(path string, stdin io.Reader) (queryfile.Query, error) {
	if path == "" || path == "-" {
		return queryfile.Load(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return queryfile.Query{}, fmt.Errorf("open query file: %w", err)
	}
	defer f.Close()
	return queryfile.Load(f)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
