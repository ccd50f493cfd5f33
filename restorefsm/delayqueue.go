package restorefsm

import "github.com/fametec/filed/streamid"

// entry is one DelayQueue record: a stream id plus its
// opaque payload, applied only after the file's attributes are set.
type entry struct {
	id      streamid.ID
	payload []byte
}

// DelayQueue is the per-file FIFO for ACL/xattr records that must be
// applied only after stat-time/ownership restoration, because
// applying them earlier can strip security bits those steps would
// set. Application order is ACLs in arrival order, then xattrs in
// arrival order — never interleaved.
type DelayQueue struct {
	acls   []entry
	xattrs []entry
}

// Enqueue appends one record, classified by its stream id.
func (q *DelayQueue) Enqueue(id streamid.ID, payload []byte) {
	e := entry{id: id, payload: payload}
	if streamid.IsACL(id) {
		q.acls = append(q.acls, e)
		return
	}
	q.xattrs = append(q.xattrs, e)
}

// Len reports the total number of queued records.
func (q *DelayQueue) Len() int { return len(q.acls) + len(q.xattrs) }

// Drain applies every queued record through apply, ACLs first, then
// xattrs, both in arrival order, then clears the queue regardless of
// whether apply returned an error for some entries (errors are
// reported via the returned slice, matching the per-job ACL/xattr
// error caps rather than aborting the restore).
func (q *DelayQueue) Drain(applyACL, applyXattr func(id streamid.ID, payload []byte) error) []error {
	var errs []error
	for _, e := range q.acls {
		if err := applyACL(e.id, e.payload); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range q.xattrs {
		if err := applyXattr(e.id, e.payload); err != nil {
			errs = append(errs, err)
		}
	}
	q.acls = nil
	q.xattrs = nil
	return errs
}
