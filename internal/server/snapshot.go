package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/ema/internal/store"
)

// Snapshot dumps the fixed, ordered collection set to a JSON file.
func (s *Server) Snapshot(ctx context.Context, path string) error {
	snap, err := s.docs.SnapshotAll(ctx, store.SnapshotCollections)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.logger.Info("snapshot written", "path", path, "collections", len(snap.Names))
	return nil
}

// Restore replaces the store's collections with a snapshot file's
// contents. Live workers keep whatever state they already built; restore
// is meant for a fresh process.
func (s *Server) Restore(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap store.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if err := s.docs.RestoreAll(ctx, &snap); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	s.logger.Info("snapshot restored", "path", path, "collections", len(snap.Names))
	return nil
}
