package gapi

import "net/url"

// FeedPage is the pagination cursor a reply parser extracts from a feed
// response. An absent NextURL terminates a multi-page fetch.
type FeedPage struct {
	// NextURL is the follow-up request URL, nil on the last page.
	NextURL *url.URL
	// TotalResults is the server-reported item count across the feed, when
	// the feed carries one. Zero means unreported.
	TotalResults int
	// SyncToken is the incremental-sync token from the final page, when the
	// feed supports incremental fetches.
	SyncToken string
}
