package gapi

import (
	"net/http"
	"net/url"
)

// PageParser turns one raw feed reply into domain items plus the pagination
// cursor. Returning a nil FeedPage or one without NextURL ends the fetch.
type PageParser func(reply *Reply) ([]Object, *FeedPage, error)

// FetchJob issues a GET against a feed URL and accumulates parsed items
// across all pages, following the cursor's next-page URL until exhausted.
type FetchJob struct {
	Job

	feedURL *url.URL
	parse   PageParser
	items   []Object
	feed    FeedPage
}

// NewFetchJob creates a fetch over the given feed URL. The parser supplies
// the per-resource decoding this package doesn't know about.
func NewFetchJob(account *Account, feedURL *url.URL, parse PageParser) *FetchJob {
	f := &FetchJob{feedURL: feedURL, parse: parse}
	f.Job.Account = account
	f.Job.StartFunc = f.start
	f.Job.HandleReplyFunc = f.handleReply
	return f
}

func (f *FetchJob) start(j *Job) error {
	f.items = nil
	f.feed = FeedPage{}
	j.Enqueue(http.MethodGet, f.feedURL, nil, "")
	return nil
}

func (f *FetchJob) handleReply(j *Job, reply *Reply) error {
	items, page, err := f.parse(reply)
	if err != nil {
		return err
	}
	f.items = append(f.items, items...)
	if page != nil {
		f.feed = *page
		if page.NextURL != nil {
			j.Enqueue(http.MethodGet, page.NextURL, nil, "")
		}
	}
	return nil
}

// Items returns everything accumulated so far, in server order.
func (f *FetchJob) Items() []Object {
	return f.items
}

// Feed returns the last pagination cursor seen, carrying the sync token on
// feeds that support incremental fetches.
func (f *FetchJob) Feed() FeedPage {
	return f.feed
}
