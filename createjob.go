package gapi

import (
	"net/http"
	"net/url"
)

// ItemParser turns a single-resource reply into one domain object.
type ItemParser func(reply *Reply) (Object, error)

// Payload is one serialized resource a create or modify job sends.
type Payload struct {
	URL         *url.URL
	Body        []byte
	ContentType string
	Header      http.Header
}

// ContentTypeJSON is the default payload content type.
const ContentTypeJSON = "application/json"

// CreateJob POSTs one payload per item and accumulates one parsed result per
// item, in payload order.
type CreateJob struct {
	Job

	payloads []Payload
	parse    ItemParser
	items    []Object
}

// NewCreateJob creates a job that POSTs each payload serially.
func NewCreateJob(account *Account, payloads []Payload, parse ItemParser) *CreateJob {
	c := &CreateJob{payloads: payloads, parse: parse}
	c.Job.Account = account
	c.Job.StartFunc = c.start
	c.Job.HandleReplyFunc = c.handleReply
	return c
}

func (c *CreateJob) start(j *Job) error {
	c.items = nil
	for _, p := range c.payloads {
		ct := p.ContentType
		if ct == "" {
			ct = ContentTypeJSON
		}
		j.EnqueueRequest(&QueuedRequest{
			Method:      http.MethodPost,
			URL:         p.URL,
			Body:        p.Body,
			ContentType: ct,
			Header:      p.Header,
		})
	}
	return nil
}

func (c *CreateJob) handleReply(j *Job, reply *Reply) error {
	obj, err := c.parse(reply)
	if err != nil {
		return err
	}
	c.items = append(c.items, obj)
	return nil
}

// Items returns one created object per payload processed so far.
func (c *CreateJob) Items() []Object {
	return c.items
}
