package gapi

import "net/http"

// ModifyJob replaces resources with PUT. Unless a payload carries its own
// precondition, an unconditional-overwrite If-Match is forced so the write
// never fails on a stale etag.
type ModifyJob struct {
	Job

	payloads []Payload
	parse    ItemParser
	items    []Object
}

// NewModifyJob creates a job that PUTs each payload serially.
func NewModifyJob(account *Account, payloads []Payload, parse ItemParser) *ModifyJob {
	m := &ModifyJob{payloads: payloads, parse: parse}
	m.Job.Account = account
	m.Job.StartFunc = m.start
	m.Job.HandleReplyFunc = m.handleReply
	return m
}

func (m *ModifyJob) start(j *Job) error {
	m.items = nil
	for _, p := range m.payloads {
		ct := p.ContentType
		if ct == "" {
			ct = ContentTypeJSON
		}
		header := p.Header
		if header == nil {
			header = http.Header{}
		} else {
			header = header.Clone()
		}
		if header.Get("If-Match") == "" {
			header.Set("If-Match", "*")
		}
		j.EnqueueRequest(&QueuedRequest{
			Method:      http.MethodPut,
			URL:         p.URL,
			Body:        p.Body,
			ContentType: ct,
			Header:      header,
		})
	}
	return nil
}

func (m *ModifyJob) handleReply(j *Job, reply *Reply) error {
	obj, err := m.parse(reply)
	if err != nil {
		return err
	}
	m.items = append(m.items, obj)
	return nil
}

// Items returns one modified object per payload processed so far.
func (m *ModifyJob) Items() []Object {
	return m.items
}
