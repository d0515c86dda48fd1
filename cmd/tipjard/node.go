package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"tipjar/config"
	"tipjar/core/events"
	"tipjar/core/genesis"
	"tipjar/core/state"
	"tipjar/native/tipjar"
	"tipjar/observability"
	"tipjar/rpc"
	"tipjar/storage"
	"tipjar/storage/auditlog"
)

// node holds the long-lived components of a running daemon.
type node struct {
	db     storage.Database
	store  *state.Store
	engine *tipjar.Engine
	hub    *events.Hub
	audit  *auditlog.Store
	server *rpc.Server
	logger *slog.Logger
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if cfg.InMemory {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	n := &node{db: db, store: state.NewStore(db), logger: logger}

	n.hub = events.NewHub(cfg.RPC.EventHistory)
	n.engine = tipjar.NewEngine()
	n.engine.SetState(n.store)
	n.engine.SetFeeSchedule(cfg.FeeSchedule())
	n.engine.SetLogger(logger)
	n.engine.SetEmitter(events.Multi{n.hub, observability.Events()})

	if cfg.GenesisFile != "" {
		spec, err := genesis.Load(cfg.GenesisFile)
		if err != nil {
			n.Close()
			return nil, err
		}
		applied, err := genesis.Apply(ctx, spec, n.store, cfg.FeeSchedule(), logger)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
		if !applied {
			logger.Info("state already initialised; genesis skipped", slog.String("path", cfg.GenesisFile))
		}
	}

	var auditor rpc.Auditor
	if cfg.Audit.Enabled {
		path := cfg.AuditPath()
		if cfg.InMemory {
			path = ":memory:"
		}
		n.audit, err = auditlog.Open(path)
		if err != nil {
			n.Close()
			return nil, err
		}
		auditor = n.audit
	}

	timeouts := cfg.RPC.Timeouts()
	n.server = rpc.NewServer(n.engine, n.hub, auditor, rpc.ServerConfig{
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
		Burst:             cfg.RPC.Burst,
		ReadHeaderTimeout: timeouts.ReadHeader,
		ReadTimeout:       timeouts.Read,
		WriteTimeout:      timeouts.Write,
		IdleTimeout:       timeouts.Idle,
		OperatorSecret:    cfg.RPC.OperatorSecret(),
		OperatorIssuer:    cfg.RPC.OperatorIssuer,
	}, logger)
	return n, nil
}

// Close releases the node's storage handles. It is safe to call on a
// partially constructed node.
func (n *node) Close() {
	if n.hub != nil {
		n.hub.Close()
	}
	if n.audit != nil {
		if err := n.audit.Close(); err != nil {
			n.logger.Warn("close audit log", slog.Any("error", err))
		}
	}
	if n.db != nil {
		n.db.Close()
	}
}
