package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/wdatafacility/wdf/indexer"
	"github.com/wdatafacility/wdf/source"
	"github.com/wdatafacility/wdf/store"
	"github.com/wdatafacility/wdf/tasks"
)

// LogConfig configures console logging.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" description:"Logging output format"`
}

func initLog(cfg LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if lvl, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(lvl)
	}
}

// StoreConfig locates the relational store.
type StoreConfig struct {
	URI string `long:"uri" env:"URI" default:"postgres://localhost:5432/wdf" description:"Database URI (postgres:// or sqlite://)"`
}

func (cfg StoreConfig) open(ctx context.Context) (*store.Store, error) {
	if path, ok := strings.CutPrefix(cfg.URI, "sqlite://"); ok {
		return store.OpenSQLite(ctx, path)
	}
	return store.OpenPostgres(ctx, cfg.URI)
}

// SourceConfig locates the crawler export API.
type SourceConfig struct {
	Endpoint string `long:"endpoint" env:"SH_ENDPOINT" default:"https://storage.scrapinghub.com" description:"Crawler export API endpoint"`
	APIKey   string `long:"api-key" env:"SH_APIKEY" description:"Crawler export API key"`
	Crawler  string `long:"crawler" env:"SH_CRAWLER" default:"wb" description:"Crawler slug"`
}

func (cfg SourceConfig) client() *source.Client {
	return source.NewClient(cfg.Endpoint, cfg.APIKey)
}

// ChunkConfig carries the pipeline chunk sizes.
type ChunkConfig struct {
	GetChunkSize  int `long:"get_chunk_size" env:"GET_CHUNK_SIZE" default:"500" description:"Items fetched from the source per request"`
	SaveChunkSize int `long:"save_chunk_size" env:"SAVE_CHUNK_SIZE" default:"5000" description:"Rows persisted per loader slice"`
}

// resolve folds an explicit --chunk_size override into the env-backed sizes.
func (cfg ChunkConfig) resolve(override int) (get, save int) {
	if override > 0 {
		return override, override
	}
	return cfg.GetChunkSize, cfg.SaveChunkSize
}

func makeFactory(storeCfg StoreConfig, sourceCfg SourceConfig, idxCfg indexer.Config) tasks.Factory {
	return func(ctx context.Context, job string) (*indexer.Indexer, func(), error) {
		st, err := storeCfg.open(ctx)
		if err != nil {
			return nil, nil, err
		}
		idx, err := indexer.New(ctx, idxCfg, st, sourceCfg.client(), job)
		if err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("binding indexer to job %s: %w", job, err)
		}
		return idx, func() { _ = st.Close() }, nil
	}
}

var success = color.New(color.FgGreen)

func successf(format string, a ...interface{}) {
	_, _ = success.Printf(format+"\n", a...)
}
