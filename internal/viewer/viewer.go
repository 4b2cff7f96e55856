// Package viewer renders a namespace for the browser: the JSON record list
// served on /data and the HTML page that embeds and polls it.
package viewer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"html/template"

	"github.com/overhuman/kvstore/internal/cache"
	"github.com/overhuman/kvstore/internal/entry"
)

//go:embed viewer.html.tmpl
var pageSource string

var page = template.Must(template.New("viewer").Parse(pageSource))

// Record is the JSON shape of one entry.
type Record struct {
	Key       string   `json:"key"`
	Value     string   `json:"value"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	ExpiresAt *string  `json:"expires_at"`
}

// Options controls the rendered page. Empty endpoints give a static page:
// no polling and no edit controls.
type Options struct {
	PollEndpoint string
	APIEndpoint  string
	Namespace    string
}

// Records lists ix in key order.
func Records(ix *cache.Index) []Record {
	ordered := ix.Ordered()
	out := make([]Record, 0, len(ordered))
	for _, rec := range ordered {
		out = append(out, FromEntry(rec.Key, rec.Entry))
	}
	return out
}

// FromEntry converts one entry.
func FromEntry(key string, e entry.Entry) Record {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return Record{
		Key:       key,
		Value:     e.Value,
		Tags:      tags,
		CreatedAt: entry.FormatTime(e.CreatedAt),
		UpdatedAt: entry.FormatTime(e.UpdatedAt),
		ExpiresAt: entry.FormatOptional(e.ExpiresAt),
	}
}

// MarshalRecords encodes Records(ix) as a JSON array.
func MarshalRecords(ix *cache.Index) ([]byte, error) {
	return json.Marshal(Records(ix))
}

type pageData struct {
	Records   []Record
	Poll      string
	API       string
	Namespace string
	Live      bool
	Editable  bool
}

// Render produces the HTML page for ix.
func Render(ix *cache.Index, opts Options) ([]byte, error) {
	data := pageData{
		Records:   Records(ix),
		Poll:      opts.PollEndpoint,
		API:       opts.APIEndpoint,
		Namespace: opts.Namespace,
		Live:      opts.PollEndpoint != "",
		Editable:  opts.APIEndpoint != "",
	}
	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
