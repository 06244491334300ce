package checkpoint

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/syrilj/strata/internal/storage"
	"github.com/syrilj/strata/internal/types"
)

// writeRequest is one unit of work for the writer goroutine.
type writeRequest struct {
	id       string
	path     string
	step     uint64
	epoch    uint64
	ctype    types.CheckpointType
	metadata map[string]string
	payload  []byte
}

// writerEventKind distinguishes the two outcomes a write can have.
type writerEventKind int

const (
	eventCompleted writerEventKind = iota
	eventFailed
)

// writerEvent reports a completed or failed write back to the Manager's
// event-listener goroutine.
type writerEvent struct {
	kind      writerEventKind
	id        string
	sizeBytes uint64
	err       error
}

// asyncWriter runs a single consumer goroutine draining a bounded request
// channel, matching original_source/crates/checkpoint/src/writer.rs's
// writer_loop: one goroutine owns all disk writes so concurrent
// checkpoints never race on the same backend.
type asyncWriter struct {
	backend storage.Backend
	reqs    chan writeRequest
	events  chan writerEvent
}

func newAsyncWriter(backend storage.Backend, bufferSize int) *asyncWriter {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &asyncWriter{
		backend: backend,
		reqs:    make(chan writeRequest, bufferSize),
		events:  make(chan writerEvent, bufferSize),
	}
}

// submit enqueues a request, blocking if the queue is full.
func (w *asyncWriter) submit(req writeRequest) {
	w.reqs <- req
}

// run drains requests until ctx is canceled, writing each checkpoint file
// and emitting a writerEvent for every outcome.
func (w *asyncWriter) run(ctx context.Context) error {
	for {
		select {
		case req := <-w.reqs:
			w.writeOne(req)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *asyncWriter) writeOne(req writeRequest) {
	encoded, err := EncodeFile(req.step, req.epoch, req.ctype, false, req.metadata, req.payload)
	if err != nil {
		w.events <- writerEvent{kind: eventFailed, id: req.id, err: fmt.Errorf("encode: %w", err)}
		return
	}

	if err := w.backend.WriteAtomic(req.path, encoded); err != nil {
		w.events <- writerEvent{kind: eventFailed, id: req.id, err: fmt.Errorf("write: %w", err)}
		return
	}

	logrus.WithFields(logrus.Fields{
		"checkpoint_id": req.id,
		"bytes":         len(encoded),
		"path":          req.path,
	}).Info("checkpoint write completed")
	w.events <- writerEvent{kind: eventCompleted, id: req.id, sizeBytes: uint64(len(encoded))}
}
