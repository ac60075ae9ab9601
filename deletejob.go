package gapi

import (
	"net/http"
	"net/url"
)

// DeleteJob removes resources one at a time: each successful reply re-enters
// the start step to enqueue the next target, so a batch of deletes runs as a
// strict sequence without a separate fan-out coordinator.
type DeleteJob struct {
	Job

	// SoftNotFound treats a 404 on an individual target as a skip rather
	// than a fatal error; the batch carries on with the next target.
	SoftNotFound bool

	targets   []*url.URL
	next      int
	processed int
	skipped   []*url.URL
}

// NewDeleteJob creates a job that DELETEs each target in order, each request
// awaiting the previous reply.
func NewDeleteJob(account *Account, targets ...*url.URL) *DeleteJob {
	d := &DeleteJob{targets: targets}
	d.Job.Account = account
	d.Job.StartFunc = d.start
	d.Job.HandleReplyFunc = d.handleReply
	d.Job.HandleErrorFunc = d.handleError
	return d
}

func (d *DeleteJob) start(j *Job) error {
	d.next = 0
	d.processed = 0
	d.skipped = nil
	d.startNext(j)
	return nil
}

// startNext enqueues the next pending target, if any. With nothing left the
// queue drains and the job finishes.
func (d *DeleteJob) startNext(j *Job) {
	if d.next >= len(d.targets) {
		return
	}
	u := d.targets[d.next]
	d.next++
	j.Enqueue(http.MethodDelete, u, nil, "")
}

func (d *DeleteJob) handleReply(j *Job, reply *Reply) error {
	d.processed++
	d.startNext(j)
	return nil
}

func (d *DeleteJob) handleError(j *Job, reply *Reply) bool {
	if !d.SoftNotFound || reply.StatusCode != http.StatusNotFound {
		return false
	}
	d.skipped = append(d.skipped, reply.Request.URL)
	d.startNext(j)
	return true
}

// Processed returns how many targets were deleted.
func (d *DeleteJob) Processed() int {
	return d.processed
}

// Skipped returns the targets passed over as soft 404s.
func (d *DeleteJob) Skipped() []*url.URL {
	return d.skipped
}
