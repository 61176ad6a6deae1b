package dlq

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/model"
)

// ArchiveConfig holds OpenSearch connection and batching configuration
// for the dead-letter archive.
type ArchiveConfig struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string

	// BatchSize and FlushInterval bound how long an entry sits in the
	// buffer before it is indexed.
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultArchiveConfig returns sensible defaults for the archive.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		URL:           "https://localhost:9200",
		Username:      "admin",
		TLSSkipVerify: true,
		IndexPrefix:   "veilstream-dlq",
		BatchSize:     100,
		FlushInterval: 10 * time.Second,
	}
}

// Archiver batches dead-letter entries and bulk-indexes them into a
// date-suffixed OpenSearch index for triage and long-term retention.
// The JetStream stream remains the replay source of truth; the archive is
// for search.
type Archiver struct {
	client *opensearch.Client
	cfg    ArchiveConfig

	mu      sync.Mutex
	pending []*model.DeadLetterEntry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewArchiver creates an archiver and verifies connectivity.
func NewArchiver(cfg ArchiveConfig) (*Archiver, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	a := &Archiver{
		client: client,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	a.wg.Add(1)
	go a.flushLoop()

	return a, nil
}

// Add buffers an entry for the next bulk flush.
func (a *Archiver) Add(entry *model.DeadLetterEntry) {
	a.mu.Lock()
	a.pending = append(a.pending, entry)
	full := len(a.pending) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		a.flush()
	}
}

// Close flushes remaining entries and stops the background flusher.
func (a *Archiver) Close() {
	close(a.stopCh)
	a.wg.Wait()
	a.flush()
}

func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Archiver) flush() {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexName := fmt.Sprintf("%s-%s", a.cfg.IndexPrefix, time.Now().UTC().Format("2006.01.02"))

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client: a.client,
		Index:  indexName,
	})
	if err != nil {
		slog.Error("failed to create bulk indexer", logging.Error(err))
		return
	}

	for _, entry := range batch {
		data, err := json.Marshal(entry)
		if err != nil {
			slog.Error("failed to marshal dead-letter entry",
				slog.String("id", entry.ID),
				logging.Error(err),
			)
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: entry.ID,
			Body:       bytes.NewReader(data),
			OnFailure: func(_ context.Context, _ opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					slog.Error("failed to index dead-letter entry", logging.Error(err))
				} else {
					slog.Error("failed to index dead-letter entry", slog.String("reason", res.Error.Reason))
				}
			},
		})
		if err != nil {
			slog.Error("failed to add entry to bulk indexer", logging.Error(err))
		}
	}

	if err := bi.Close(ctx); err != nil {
		slog.Error("bulk flush failed", logging.Error(err))
		return
	}

	stats := bi.Stats()
	slog.Info("archived dead-letter entries",
		slog.String("index", indexName),
		slog.Uint64("indexed", stats.NumIndexed),
		slog.Uint64("failed", stats.NumFailed),
	)
}
