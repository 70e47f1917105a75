package persistence

import (
	"log/slog"
	"sync"
)

type WriteType int

const (
	WriteTypeOrderLog WriteType = iota
	WriteTypeWatermark
)

type WatermarkUpdate struct {
	Exchange    string
	Symbol      string
	LastTradeID int64
}

type WriteRequest struct {
	Type      WriteType
	OrderLog  OrderLogEntry
	Watermark WatermarkUpdate
}

// AsyncWriter keeps database writes off the gateway hot path. Order audit
// rows are droppable under pressure; watermark updates never are, since a
// lost watermark means replayed fills after restart.
type AsyncWriter struct {
	writeCh     chan WriteRequest
	watermarkCh chan WriteRequest
	store       *SQLiteStore
	logger      *slog.Logger
	wg          sync.WaitGroup
}

func NewAsyncWriter(store *SQLiteStore, bufferSize int, logger *slog.Logger) *AsyncWriter {
	return &AsyncWriter{
		writeCh:     make(chan WriteRequest, bufferSize),
		watermarkCh: make(chan WriteRequest, 100),
		store:       store,
		logger:      logger,
	}
}

func (w *AsyncWriter) Write(req WriteRequest) {
	if req.Type == WriteTypeWatermark {
		w.watermarkCh <- req
		return
	}

	select {
	case w.writeCh <- req:
	default:
		w.logger.Warn("write channel full, dropping audit write",
			"type", req.Type)
	}
}

func (w *AsyncWriter) Run() {
	w.wg.Add(2)
	go w.processWrites()
	go w.processWatermarks()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()
	for req := range w.writeCh {
		w.handleWrite(req)
	}
}

func (w *AsyncWriter) processWatermarks() {
	defer w.wg.Done()
	for req := range w.watermarkCh {
		w.handleWrite(req)
	}
}

func (w *AsyncWriter) handleWrite(req WriteRequest) {
	if w.store == nil {
		return
	}
	switch req.Type {
	case WriteTypeOrderLog:
		if err := w.store.WriteOrderLog(req.OrderLog); err != nil {
			w.logger.Error("failed to write order log", "error", err)
		}
	case WriteTypeWatermark:
		if err := w.store.SaveWatermark(req.Watermark.Exchange, req.Watermark.Symbol, req.Watermark.LastTradeID); err != nil {
			w.logger.Error("failed to write watermark", "error", err)
		}
	default:
		w.logger.Warn("unknown write type", "type", req.Type)
	}
}

// Stop closes the queues and blocks until everything already enqueued has
// been written.
func (w *AsyncWriter) Stop() {
	close(w.writeCh)
	close(w.watermarkCh)
	w.wg.Wait()
}
