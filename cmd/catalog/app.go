// cmd/catalog/app.go
//
// Process wiring shared by every command.
//
// Boot order
// ----------
//
//  1. Vault client (only when VAULT_ADDR is set).
//  2. Config: conf/catalog.yaml, env overlay, `vault:` resolution.
//  3. Logger: daily JSON file for `serve`, stderr console for one-shot
//     commands.
//  4. Catalog DB (MySQL) and the lazy source pool.
//  5. Detector, annotation chain, syncer, ledger, orchestrator, snapshots.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/catalog/internal/annotate"
	"github.com/yanizio/catalog/internal/catalog"
	"github.com/yanizio/catalog/internal/config"
	"github.com/yanizio/catalog/internal/database"
	"github.com/yanizio/catalog/internal/detect"
	"github.com/yanizio/catalog/internal/discovery"
	"github.com/yanizio/catalog/internal/exclude"
	"github.com/yanizio/catalog/internal/llm"
	"github.com/yanizio/catalog/internal/logger"
	"github.com/yanizio/catalog/internal/scan"
	"github.com/yanizio/catalog/internal/snapshot"
	"github.com/yanizio/catalog/internal/vault"
	"github.com/yanizio/catalog/internal/version"
)

type app struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	db      *sqlx.DB
	pool    *discovery.Pool
	adapter *discovery.SQLAdapter
	store   *catalog.Store
	ledger  *version.Ledger
	scanner *scan.Orchestrator
	snaps   *snapshot.Service
	policy  exclude.Policy
	dialect snapshot.Dialect
	sources map[string]discovery.Connection
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// newApp wires everything.  fileLog selects the rotating file logger.
func newApp(ctx context.Context, fileLog bool) (*app, error) {
	var secrets config.SecretResolver
	if vault.Enabled() {
		cli, err := vault.New(ctx, zap.S().Infof)
		if err != nil {
			return nil, err
		}
		secrets = cli
	}

	cfg, err := config.Load(ctx, secrets)
	if err != nil {
		return nil, err
	}

	var log *zap.SugaredLogger
	if fileLog {
		if log, err = logger.New(cfg.Paths.Root, cfg.Logging.Level, runningInTTY()); err != nil {
			return nil, fmt.Errorf("start logger: %w", err)
		}
	} else {
		log = logger.Console(cfg.Logging.Level)
	}

	opts := database.DefaultOptions
	opts.MaxOpenConns, opts.MaxIdleConns = cfg.Database.MaxOpen, cfg.Database.MaxIdle
	db, err := database.OpenWithOptions(ctx, "mysql", database.WithPassword(cfg.Database.DSN, cfg.Database.Password), opts)
	if err != nil {
		return nil, fmt.Errorf("connect catalog DB: %w", err)
	}
	log.Infow("catalog DB online", "max_open", opts.MaxOpenConns)

	dialect, err := snapshot.ParseDialect(cfg.Migration.Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		pool:    discovery.NewPool(log),
		store:   catalog.NewStore(db),
		ledger:  version.NewLedger(log),
		policy:  exclude.New(cfg.Scan.ExcludeTables),
		dialect: dialect,
		sources: make(map[string]discovery.Connection, len(cfg.Sources)),
	}
	a.adapter = discovery.NewSQLAdapter(a.pool)
	for _, name := range cfg.SourceNames() {
		src := cfg.Sources[name]
		a.sources[name] = discovery.Connection{Name: name, Driver: src.Driver, DSN: src.DSN}
	}

	var fps detect.Store = detect.NewMemoryStore()
	if cfg.Scan.FingerprintStore == "sql" {
		fps = detect.NewSQLStore(db)
	}
	detector := detect.New(a.adapter, fps, detect.WithHistoryLimit(cfg.Scan.HistoryLimit), detect.WithLogger(log))

	chain, err := a.annotator()
	if err != nil {
		a.close()
		return nil, err
	}

	a.scanner = scan.New(a.adapter, detector, catalog.NewSyncer(), a.ledger,
		scan.WithAnnotator(chain),
		scan.WithExclusions(a.policy),
		scan.WithSampling(cfg.Scan.SampleLimit),
		scan.WithSavepoints(true),
		scan.WithHistoryLimit(cfg.Scan.HistoryLimit),
		scan.WithLogger(log),
	)
	a.snaps = snapshot.NewService(snapshot.NewSQLStore(db), snapshot.WithDialect(dialect), snapshot.WithLogger(log))
	return a, nil
}

// annotator builds the fallback chain.  The AI stage is present only when
// ai.enabled is set.
func (a *app) annotator() (*annotate.Chain, error) {
	var overrides []annotate.Dictionary
	if path := a.cfg.Annotate.DictionaryFile; path != "" {
		d, err := annotate.LoadDictionary(path)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, d)
	}
	rules := annotate.NewRuleAnnotator(overrides...)

	if !a.cfg.AI.Enabled {
		return annotate.NewChain(a.log, rules), nil
	}
	ai := a.cfg.AI
	client, err := llm.New(llm.Config{
		Provider:          ai.Provider,
		BaseURL:           ai.BaseURL,
		Model:             ai.Model,
		APIKey:            ai.APIKey,
		Timeout:           ai.Timeout,
		RequestsPerSecond: ai.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("ai client: %w", err)
	}
	model := annotate.NewModelAnnotator(client, annotate.ModelOptions{
		MaxTokens:   ai.MaxTokens,
		Temperature: ai.Temperature,
		BatchSize:   a.cfg.Scan.BatchSize,
		CacheSize:   ai.CacheSize,
		Logger:      a.log,
	})
	a.log.Infow("ai annotation enabled", "provider", ai.Provider, "model", client.Model())
	return annotate.NewChain(a.log, model, rules), nil
}

func (a *app) connection(name string) (discovery.Connection, error) {
	c, ok := a.sources[name]
	if !ok {
		return discovery.Connection{}, fmt.Errorf("unknown source %q (configured: %v)", name, a.cfg.SourceNames())
	}
	return c, nil
}

// session opens a catalog unit of work.
func (a *app) session(ctx context.Context) (scan.Session, error) {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// versions reads ledger history from the catalog DB.
func (a *app) versions(ctx context.Context, database, table string, limit int) ([]version.Model, error) {
	return a.ledger.History(ctx, a.db, database, table, limit)
}

func (a *app) close() {
	_ = a.pool.Close()
	_ = a.db.Close()
	_ = a.log.Sync()
}
