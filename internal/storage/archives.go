package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

const archiveContentType = "application/zip"

// ArchiveRef identifies the run an archive belongs to.
type ArchiveRef struct {
	CaseID     string
	RunID      string
	FinishedAt time.Time
}

type ArchiveStore struct {
	store ObjectStore
}

func NewArchiveStore(store ObjectStore) (*ArchiveStore, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &ArchiveStore{store: store}, nil
}

// Save uploads a packaged archive and returns the stored object.
func (a *ArchiveStore) Save(ctx context.Context, ref ArchiveRef, data []byte) (ObjectInfo, error) {
	key, err := BuildArchivePath(ref.CaseID, ref.RunID, ref.FinishedAt)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), PutOptions{
		ContentType: archiveContentType,
		Metadata: map[string]string{
			"case-id": ref.CaseID,
			"run-id":  ref.RunID,
		},
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("save archive for run %s: %w", ref.RunID, err)
	}
	if info.Key == "" {
		info.Key = key
	}
	return info, nil
}

// Open streams a stored archive. Missing archives yield ErrObjectNotFound.
func (a *ArchiveStore) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := a.store.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	reader, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return reader, info, nil
}
