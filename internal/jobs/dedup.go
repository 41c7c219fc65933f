package jobs

import "sync"

// Deduplicator enforces at-most-one-in-flight processing per idempotency
// key. It holds a linearizable bijection between in-flight job ids and the
// idempotency keys that reserved them; jobs with no idempotency key never
// participate in dedup and always reserve successfully.
type Deduplicator struct {
	mu         sync.Mutex
	keyToJobID map[string]string
	jobIDToKey map[string]string
}

// NewDeduplicator returns an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		keyToJobID: make(map[string]string),
		jobIDToKey: make(map[string]string),
	}
}

// TryReserve attempts to claim key for jobID. It returns true if the
// reservation succeeded (no other job currently holds key), or false if key
// is already held by a different in-flight job. A job re-reserving its own
// already-held key succeeds idempotently.
func (d *Deduplicator) TryReserve(jobID, key string) bool {
	if key == "" {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if holder, ok := d.keyToJobID[key]; ok {
		return holder == jobID
	}

	if old, ok := d.jobIDToKey[jobID]; ok {
		delete(d.keyToJobID, old)
	}
	d.keyToJobID[key] = jobID
	d.jobIDToKey[jobID] = key
	return true
}

// Release frees the key held by jobID, if any. Safe to call on jobs that
// never held a key.
func (d *Deduplicator) Release(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key, ok := d.jobIDToKey[jobID]
	if !ok {
		return
	}
	delete(d.jobIDToKey, jobID)
	delete(d.keyToJobID, key)
}

// InFlightJobID returns the job id currently holding key, if any.
func (d *Deduplicator) InFlightJobID(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	jobID, ok := d.keyToJobID[key]
	return jobID, ok
}
