package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	lists   int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, contentTypeJSONL)
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

type memMarkets struct {
	domain.MarketStore
	views    []domain.MarketView
	archived map[string]string
}

func (m *memMarkets) ListArchivable(_ context.Context, before time.Time, limit int) ([]domain.MarketView, error) {
	var out []domain.MarketView
	for _, v := range m.views {
		if _, done := m.archived[v.ID]; done || !v.PaidOut || v.ResolvedAt == nil || !v.ResolvedAt.Before(before) {
			continue
		}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memMarkets) MarkArchived(_ context.Context, id, path string, _ time.Time) error {
	m.archived[id] = path
	return nil
}

type memJournal map[string][]domain.JournalEntry

func (j memJournal) ListByMarket(_ context.Context, id string) ([]domain.JournalEntry, error) {
	return j[id], nil
}

func resolvedView(id string, at time.Time, paid bool) domain.MarketView {
	return domain.MarketView{
		ID:         id,
		State:      domain.StateResolved,
		Outcome:    domain.OutcomeYes,
		PaidOut:    paid,
		ResolvedAt: &at,
	}
}

func TestArchiveMarkets(t *testing.T) {
	ctx := context.Background()
	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	markets := &memMarkets{
		views: []domain.MarketView{
			resolvedView("m1", jan, true),
			resolvedView("m2", jan, false),
			resolvedView("m3", feb, true),
		},
		archived: map[string]string{},
	}
	journal := memJournal{
		"m1": {
			{Seq: 1, Op: "create_market", MarketID: "m1", Payload: json.RawMessage(`{}`)},
			{Seq: 4, Op: "place_bet", MarketID: "m1", Payload: json.RawMessage(`{}`)},
		},
	}
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, markets, journal, nil, nil)

	n, err := a.ArchiveMarkets(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "archive/markets/2026-01/m1.jsonl", markets.archived["m1"])

	var kinds []string
	sc := bufio.NewScanner(bytes.NewReader(blobs.objects["archive/markets/2026-01/m1.jsonl"]))
	for sc.Scan() {
		var line archiveLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		kinds = append(kinds, line.Kind)
	}
	assert.Equal(t, []string{"market", "journal", "journal"}, kinds)

	n, err = a.ArchiveMarkets(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveMarkets_ReusesVerifiedUpload(t *testing.T) {
	ctx := context.Background()
	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	m1 := resolvedView("m1", jan, true)
	m2 := resolvedView("m2", jan, true)
	journal := memJournal{"m1": {{Seq: 1, Op: "create_market", MarketID: "m1", Payload: json.RawMessage(`{}`)}}}

	earlier, err := marshalArchive(m1, journal["m1"])
	require.NoError(t, err)
	blobs := newMemBlobs()
	blobs.objects[ArchivePath(m1)] = earlier

	markets := &memMarkets{views: []domain.MarketView{m1, m2}, archived: map[string]string{}}
	a := NewArchiver(blobs, blobs, markets, journal, nil, nil)

	n, err := a.ArchiveMarkets(ctx, jan.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, blobs.puts, "only m2 is uploaded")
	assert.Equal(t, 1, blobs.lists, "one listing per month")
	assert.Contains(t, markets.archived, "m1")
	assert.Contains(t, markets.archived, "m2")
}

func TestArchiveMarkets_ReplacesCorruptUpload(t *testing.T) {
	ctx := context.Background()
	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	v := resolvedView("m1", jan, true)

	blobs := newMemBlobs()
	blobs.objects[ArchivePath(v)] = []byte("truncated\n")

	markets := &memMarkets{views: []domain.MarketView{v}, archived: map[string]string{}}
	a := NewArchiver(blobs, blobs, markets, memJournal{}, nil, nil)

	n, err := a.ArchiveMarkets(ctx, jan.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, blobs.puts)
	require.NoError(t, a.verify(ctx, ArchivePath(v), "m1", 1))
}
