package gapi

import "encoding/json"

// Object is an opaque domain item produced by a reply parser. The engine
// never looks inside; per-resource types live with their parsers, outside
// this package.
type Object any

// RawObject is the trivial Object used when the caller wants the untouched
// JSON of each item.
type RawObject json.RawMessage
