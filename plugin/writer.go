package plugin

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
)

var errWriterClosed = errors.New("writer closed")

// lineWriter writes newline-terminated JSON messages from a single
// goroutine. Send only queues, so it is safe to call while holding locks:
// responses to held HTLCs are sent from under the aggregator's locks.
type lineWriter struct {
	w io.Writer

	mtx    sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool

	done chan struct{}
	err  error
}

func newLineWriter(w io.Writer) *lineWriter {
	lw := &lineWriter{
		w:    w,
		done: make(chan struct{}),
	}
	lw.cond = sync.NewCond(&lw.mtx)
	go lw.loop()
	return lw
}

// Send encodes msg and queues it. Messages are written in the order they are
// queued.
func (lw *lineWriter) Send(msg interface{}) error {
	bz, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	bz = append(bz, '\n')

	lw.mtx.Lock()
	defer lw.mtx.Unlock()
	if lw.closed {
		return errWriterClosed
	}
	lw.queue = append(lw.queue, bz)
	lw.cond.Signal()
	return nil
}

func (lw *lineWriter) loop() {
	defer close(lw.done)

	for {
		lw.mtx.Lock()
		for len(lw.queue) == 0 && !lw.closed {
			lw.cond.Wait()
		}
		batch := lw.queue
		lw.queue = nil
		closed := lw.closed
		lw.mtx.Unlock()

		for _, bz := range batch {
			if _, err := lw.w.Write(bz); err != nil {
				lw.fail(err)
				return
			}
		}
		if closed && len(batch) == 0 {
			return
		}
	}
}

func (lw *lineWriter) fail(err error) {
	lw.mtx.Lock()
	defer lw.mtx.Unlock()
	lw.err = err
	lw.closed = true
	lw.queue = nil
}

// Close flushes the queued messages and stops the writer. It returns the
// first write error, if any.
func (lw *lineWriter) Close() error {
	lw.mtx.Lock()
	lw.closed = true
	lw.cond.Signal()
	lw.mtx.Unlock()

	<-lw.done

	lw.mtx.Lock()
	defer lw.mtx.Unlock()
	return lw.err
}
