package apns

import (
	"sync"
	"time"

	"golang.org/x/net/http2/hpack"
)

// Callback receives the final outcome of a push. Exactly one of the two
// methods fires, exactly once: OnResponse when the stream closes with a
// response from APNs, OnTimeout when no close event arrives within the
// connection's timeout. Callbacks run on the connection's background
// goroutines and may call back into the Conn (including Push).
type Callback interface {
	OnResponse(resp *Response)
	OnTimeout()
}

// CallbackFuncs adapts plain functions to the Callback interface. Nil
// fields are no-ops.
type CallbackFuncs struct {
	Response func(*Response)
	Timeout  func()
}

func (f CallbackFuncs) OnResponse(r *Response) {
	if f.Response != nil {
		f.Response(r)
	}
}

func (f CallbackFuncs) OnTimeout() {
	if f.Timeout != nil {
		f.Timeout()
	}
}

// streamRecord tracks one in-flight push from stream open until the close
// event or timeout eviction, whichever claims it first. The registry owns
// every record exclusively; fields are only touched under the registry lock.
type streamRecord struct {
	id        uint32
	cb        Callback
	submitted time.Time

	// Accumulated response state. headers is last-write-wins per key;
	// body is append-only.
	headers map[string]string
	body    []byte
}

// registry is the concurrency-safe map from stream ID to in-flight record.
// One mutex serializes every insert, mutation, and removal, which is what
// makes the close-event and timeout-sweep removal paths mutually exclusive:
// whichever path claims a record under the lock is the only one that will
// ever fire its callback. Callbacks themselves are always invoked by the
// claimer after the lock is released, so they can safely re-enter.
type registry struct {
	mu      sync.Mutex
	records map[uint32]*streamRecord
}

func newRegistry() *registry {
	return &registry{records: make(map[uint32]*streamRecord)}
}

func (r *registry) add(id uint32, cb Callback, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id] = &streamRecord{
		id:        id,
		cb:        cb,
		submitted: now,
		headers:   make(map[string]string),
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// mergeHeaders folds a header event into the record's accumulated map,
// last value winning per key. Events for unknown streams are dropped.
func (r *registry) mergeHeaders(id uint32, fields []hpack.HeaderField) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	for _, f := range fields {
		rec.headers[f.Name] = f.Value
	}
}

// appendData folds a data event into the record's accumulated body.
func (r *registry) appendData(id uint32, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.body = append(rec.body, data...)
}

// claim removes and returns the record for id, or nil if it was already
// claimed by the other removal path. The caller fires the callback.
func (r *registry) claim(id uint32) *streamRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	delete(r.records, id)
	return rec
}

// claimExpired removes and returns every record submitted before the
// cutoff. The scan collects IDs first and deletes after, in one pass under
// the lock, so the map is never mutated while being enumerated.
func (r *registry) claimExpired(cutoff time.Time) []*streamRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*streamRecord
	for _, rec := range r.records {
		if rec.submitted.Before(cutoff) {
			expired = append(expired, rec)
		}
	}
	for _, rec := range expired {
		delete(r.records, rec.id)
	}
	return expired
}

// drain removes and returns all records. Used at connection close, where
// the records are discarded without firing.
func (r *registry) drain() []*streamRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := make([]*streamRecord, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.records = make(map[uint32]*streamRecord)
	return recs
}
