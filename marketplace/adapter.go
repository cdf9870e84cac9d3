package marketplace

import (
	"net/url"

	"adwatch/models"
)

// Request describes one page fetch an adapter wants performed. Adapters are
// free to drive link-following HTML pagination or stateful paged API calls;
// the engine only fetches and hands the response back.
type Request struct {
	URL     string
	Method  string // GET when empty
	Body    []byte
	Headers map[string]string
	Cookies map[string]string

	// adapter-private state, never transmitted
	Page      int    // page counter for paged APIs
	SearchURL string // originating monitor search URL
}

// Response is a fetched page handed to ParsePage.
type Response struct {
	URL        *url.URL
	StatusCode int
	Body       []byte
	Request    *Request
}

// Adapter is the per-marketplace strategy: build the first request for a
// search URL, and turn each fetched page into listing drafts plus at most one
// follow-up request (nil when the chain is exhausted).
//
// Adapters do not stamp monitor/run ids on drafts; the engine does.
type Adapter interface {
	ID() string
	BuildInitialRequest(searchURL string) (*Request, error)
	ParsePage(resp *Response) ([]models.ListingDraft, *Request, error)
}

// Registry maps marketplace identifiers to adapters. Dispatch is a table
// lookup, nothing more.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.ID()] = a
}

func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// crop truncates s to max characters with a trailing ellipsis marker.
// Over-long marketplace strings are cropped, never rejected. The ceilings
// count characters, not bytes: these marketplaces are mostly Cyrillic, and
// a byte cut would split runes.
func crop(s string, max int) string {
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}

func strPtr(s string) *string {
	return &s
}
