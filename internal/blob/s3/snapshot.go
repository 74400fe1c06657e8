package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// Snapshots larger than this go through the multipart uploader.
	multipartThreshold = 32 * 1024 * 1024
)

// SnapshotStore is the object store surface the snapshotter needs. *Reader
// satisfies it for listing and deletion.
type SnapshotStore interface {
	domain.BlobReader
	Delete(ctx context.Context, path string) error
}

// Snapshotter writes the relation table of a rebuild as JSON lines under
// {prefix}/{runID}.jsonl and keeps the newest retain snapshots.
type Snapshotter struct {
	writer domain.BlobWriter
	store  SnapshotStore
	prefix string
	retain int
	logger *slog.Logger
}

var (
	_ domain.SnapshotWriter = (*Snapshotter)(nil)
	_ domain.SnapshotReader = (*Snapshotter)(nil)
)

// NewSnapshotter creates a Snapshotter. retain <= 0 keeps every snapshot.
func NewSnapshotter(w domain.BlobWriter, store SnapshotStore, prefix string, retain int, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		writer: w,
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		retain: retain,
		logger: logger.With(slog.String("component", "snapshotter")),
	}
}

func (s *Snapshotter) snapshotPath(runID string) string {
	return path.Join(s.prefix, runID+".jsonl")
}

// WriteRelations uploads relations and prunes old snapshots. Pruning
// failures are logged and do not fail the write.
func (s *Snapshotter) WriteRelations(ctx context.Context, runID string, relations []domain.Relation) (string, error) {
	if runID == "" {
		return "", domain.NewValidationError("run_id", "must not be empty")
	}
	buf, err := marshalJSONL(relations)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot %s: %w", runID, err)
	}

	p := s.snapshotPath(runID)
	if len(buf) >= multipartThreshold {
		err = s.writer.PutMultipart(ctx, p, bytes.NewReader(buf), minPartSize)
	} else {
		err = s.writer.Put(ctx, p, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot %s: %w", runID, err)
	}

	if s.retain > 0 && s.store != nil {
		removed, err := s.Prune(ctx, s.retain)
		if err != nil {
			s.logger.WarnContext(ctx, "snapshotter: prune failed",
				slog.String("run_id", runID),
				slog.Int("removed", removed),
				slog.String("error", err.Error()),
			)
		} else if removed > 0 {
			s.logger.DebugContext(ctx, "snapshotter: pruned old snapshots", slog.Int("removed", removed))
		}
	}
	return p, nil
}

// list returns the snapshots newest first.
func (s *Snapshotter) list(ctx context.Context) ([]domain.BlobInfo, error) {
	if s.store == nil {
		return nil, fmt.Errorf("s3blob: snapshot store not configured")
	}
	infos, err := s.store.List(ctx, s.prefix+"/")
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".jsonl") {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// Latest returns the newest snapshot, or domain.ErrNotFound.
func (s *Snapshotter) Latest(ctx context.Context) (domain.BlobInfo, error) {
	infos, err := s.list(ctx)
	if err != nil {
		return domain.BlobInfo{}, fmt.Errorf("s3blob: latest snapshot: %w", err)
	}
	if len(infos) == 0 {
		return domain.BlobInfo{}, domain.ErrNotFound
	}
	return infos[0], nil
}

// ReadRelations decodes the snapshot stored at p.
func (s *Snapshotter) ReadRelations(ctx context.Context, p string) ([]domain.Relation, error) {
	if s.store == nil {
		return nil, fmt.Errorf("s3blob: snapshot store not configured")
	}
	body, err := s.store.Get(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read snapshot %s: %w", p, err)
	}
	defer body.Close()

	var out []domain.Relation
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var r domain.Relation
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("s3blob: snapshot %s line %d: %w", p, line, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read snapshot %s: %w", p, err)
	}
	return out, nil
}

// Prune deletes all but the newest keep snapshots and returns how many were
// removed.
func (s *Snapshotter) Prune(ctx context.Context, keep int) (int, error) {
	infos, err := s.list(ctx)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune snapshots: %w", err)
	}
	if keep < 0 || len(infos) <= keep {
		return 0, nil
	}
	removed := 0
	for _, info := range infos[keep:] {
		if err := s.store.Delete(ctx, info.Path); err != nil {
			return removed, fmt.Errorf("s3blob: prune snapshots: %w", err)
		}
		removed++
	}
	return removed, nil
}

// marshalJSONL encodes records one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
