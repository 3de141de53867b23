package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
)

// multipartThreshold is the archive size above which uploads go through the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// maxArchiveLine bounds one JSONL record when an archive is read back.
const maxArchiveLine = 4 * 1024 * 1024

// JournalSource is the part of domain.JournalStore the archiver reads.
type JournalSource interface {
	ListByMarket(ctx context.Context, marketID string) ([]domain.JournalEntry, error)
}

// archiveLine is one JSONL record: the final view first, then every journal
// entry of the market in seq order.
type archiveLine struct {
	Kind   string               `json:"kind"`
	Market *domain.MarketView   `json:"market,omitempty"`
	Entry  *domain.JournalEntry `json:"entry,omitempty"`
}

// MarketArchiver implements domain.Archiver. It exports fully paid-out
// markets to object storage and marks them archived in the projection.
// Journal rows are never deleted; the archive is a copy.
type MarketArchiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	markets domain.MarketStore
	journal JournalSource
	audit   domain.AuditStore
	batch   int
	now     func() time.Time
	logger  *slog.Logger
}

// NewArchiver creates a MarketArchiver. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	markets domain.MarketStore,
	journal JournalSource,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketArchiver{
		writer:  writer,
		reader:  reader,
		markets: markets,
		journal: journal,
		audit:   audit,
		batch:   100,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveMarkets archives every paid-out market resolved before the cutoff
// and returns how many were archived in this call. Existing objects are found
// with one listing per month prefix.
func (a *MarketArchiver) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	listed := make(map[string]map[string]domain.BlobInfo)
	for {
		views, err := a.markets.ListArchivable(ctx, before, a.batch)
		if err != nil {
			return count, fmt.Errorf("s3blob: list archivable: %w", err)
		}
		if len(views) == 0 {
			return count, nil
		}
		for _, v := range views {
			prefix := path.Dir(ArchivePath(v)) + "/"
			uploaded, ok := listed[prefix]
			if !ok {
				infos, err := a.reader.List(ctx, prefix)
				if err != nil {
					return count, fmt.Errorf("s3blob: list %s: %w", prefix, err)
				}
				uploaded = make(map[string]domain.BlobInfo, len(infos))
				for _, info := range infos {
					uploaded[info.Path] = info
				}
				listed[prefix] = uploaded
			}
			if err := a.archiveOne(ctx, v, uploaded); err != nil {
				return count, err
			}
			count++
		}
		if len(views) < a.batch {
			return count, nil
		}
	}
}

func (a *MarketArchiver) archiveOne(ctx context.Context, v domain.MarketView, uploaded map[string]domain.BlobInfo) error {
	key := ArchivePath(v)

	journal, err := a.journal.ListByMarket(ctx, v.ID)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s journal: %w", v.ID, err)
	}
	lines := 1 + len(journal)

	reused := false
	if info, ok := uploaded[key]; ok && info.Size > 0 {
		if err := a.verify(ctx, key, v.ID, lines); err != nil {
			a.logger.WarnContext(ctx, "replacing unreadable archive",
				slog.String("market_id", v.ID),
				slog.String("path", key),
				slog.String("error", err.Error()),
			)
		} else {
			reused = true
		}
	}
	if !reused {
		buf, err := marshalArchive(v, journal)
		if err != nil {
			return fmt.Errorf("s3blob: archive %s marshal: %w", v.ID, err)
		}
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, key, bytes.NewReader(buf), contentTypeJSONL)
		}
		if err != nil {
			return fmt.Errorf("s3blob: archive %s upload: %w", v.ID, err)
		}
		if err := a.verify(ctx, key, v.ID, lines); err != nil {
			return fmt.Errorf("s3blob: archive %s: %w", v.ID, err)
		}
	}

	now := a.now().UTC()
	if err := a.markets.MarkArchived(ctx, v.ID, key, now); err != nil {
		return fmt.Errorf("s3blob: archive %s mark: %w", v.ID, err)
	}
	a.logger.InfoContext(ctx, "market archived",
		slog.String("market_id", v.ID),
		slog.String("path", key),
		slog.Int("entries", len(journal)),
		slog.Bool("already_uploaded", reused),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"market_id": v.ID,
			"path":      key,
			"entries":   len(journal),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// verify reads the object back and checks it opens with the market header
// for marketID and holds exactly lines records.
func (a *MarketArchiver) verify(ctx context.Context, key, marketID string, lines int) error {
	body, err := a.reader.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("verify %s: %w", key, err)
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxArchiveLine)
	n := 0
	for sc.Scan() {
		if n == 0 {
			var head archiveLine
			if err := json.Unmarshal(sc.Bytes(), &head); err != nil || head.Kind != "market" || head.Market == nil || head.Market.ID != marketID {
				return fmt.Errorf("verify %s: missing market header for %s", key, marketID)
			}
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("verify %s: %w", key, err)
	}
	if n != lines {
		return fmt.Errorf("verify %s: %d records, want %d", key, n, lines)
	}
	return nil
}

// ArchivePath returns the object key of a market archive, partitioned by the
// month it resolved:
//
//	archive/markets/2026-01/{id}.jsonl
func ArchivePath(v domain.MarketView) string {
	month := v.UpdatedAt
	if v.ResolvedAt != nil {
		month = *v.ResolvedAt
	}
	return fmt.Sprintf("archive/markets/%s/%s.jsonl", month.UTC().Format("2006-01"), v.ID)
}

func marshalArchive(v domain.MarketView, journal []domain.JournalEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(archiveLine{Kind: "market", Market: &v}); err != nil {
		return nil, err
	}
	for i := range journal {
		if err := enc.Encode(archiveLine{Kind: "journal", Entry: &journal[i]}); err != nil {
			return nil, fmt.Errorf("jsonl encode entry %d: %w", journal[i].Seq, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*MarketArchiver)(nil)
