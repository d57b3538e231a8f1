package cycleengine

import (
	"context"
	"log"

	"cycle-systemv1/internal/cycle"
	"cycle-systemv1/internal/model"
	sqlitestore "cycle-systemv1/internal/store/sqlite"
)

// NamedStore is a snapshot store tried during restore.
type NamedStore struct {
	Name  string
	Store model.SnapshotStore
}

// Restore builds an engine from the first usable snapshot in stores, tried
// in order (Redis before SQLite in the service). Unreadable, corrupt or
// incompatible snapshots are skipped. With no usable snapshot the engine
// starts cold and source is "cold".
func Restore(ctx context.Context, cfg cycle.Config, symbol string, stores []NamedStore) (engine *cycle.Engine, source string, err error) {
	for _, ns := range stores {
		if ns.Store == nil {
			continue
		}
		data, err := ns.Store.ReadLatestSnapshotJSON(ctx, symbol)
		if err != nil {
			log.Printf("[cycleengine] %s snapshot read error: %v", ns.Name, err)
			continue
		}
		snap, err := cycle.UnmarshalSnapshot(data)
		if err != nil {
			log.Printf("[cycleengine] %s snapshot decode error: %v", ns.Name, err)
			continue
		}
		if snap == nil {
			continue
		}
		e, err := cycle.RestoreEngine(cfg, snap)
		if err != nil {
			log.Printf("[cycleengine] %s snapshot rejected: %v", ns.Name, err)
			continue
		}
		return e, ns.Name, nil
	}

	e, err := cycle.NewEngine(cfg)
	if err != nil {
		return nil, "", err
	}
	return e, "cold", nil
}

// checkpoint saves the engine snapshot to every store.
func (svc *Service) checkpoint(ctx context.Context, reason string) {
	data, err := cycle.MarshalSnapshot(svc.engine.Snapshot(svc.cfg.Symbol))
	if err != nil {
		log.Printf("[cycleengine] snapshot error: %v", err)
		return
	}
	for _, ns := range svc.snapshotStores() {
		if err := ns.Store.SaveSnapshotJSON(ctx, svc.cfg.Symbol, data); err != nil {
			log.Printf("[cycleengine] %s snapshot write error: %v", ns.Name, err)
			continue
		}
		svc.prom.SnapshotsTotal.WithLabelValues(ns.Name).Inc()
	}
	st := svc.engine.State()
	log.Printf("[cycleengine] checkpoint saved (%s): bar %d, %d closed cycles", reason, st.LastIndex, len(st.Closed))
}

// sqliteSnapshots joins the SQLite writer and reader into one snapshot store.
type sqliteSnapshots struct {
	w *sqlitestore.Writer
	r *sqlitestore.Reader
}

func (s sqliteSnapshots) SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error {
	return s.w.SaveSnapshotJSON(ctx, symbol, data)
}

func (s sqliteSnapshots) ReadLatestSnapshotJSON(ctx context.Context, symbol string) ([]byte, error) {
	return s.r.ReadLatestSnapshotJSON(ctx, symbol)
}

// snapshotStores lists the stores in restore priority order.
func (svc *Service) snapshotStores() []NamedStore {
	var stores []NamedStore
	if svc.redis != nil {
		stores = append(stores, NamedStore{Name: "redis", Store: svc.redis})
	}
	stores = append(stores, NamedStore{Name: "sqlite", Store: sqliteSnapshots{w: svc.sqlWriter, r: svc.sqlReader}})
	return stores
}
