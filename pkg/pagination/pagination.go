package pagination

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds the page window of a search.
type Params struct {
	Limit  int
	Offset int
}

// New clamps a requested page size and offset. A size of zero or less means
// DefaultLimit.
func New(count, offset int) Params {
	limit := count
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Links builds self, next and previous links for a result of total matches.
// href renders the URL of a page window.
func (p Params) Links(total int, href func(Params) string) []Link {
	links := []Link{{Relation: "self", URL: href(p)}}

	if p.HasNext(total) {
		links = append(links, Link{
			Relation: "next",
			URL:      href(Params{Limit: p.Limit, Offset: p.NextOffset()}),
		})
	}

	if p.HasPrevious() {
		links = append(links, Link{
			Relation: "previous",
			URL:      href(Params{Limit: p.Limit, Offset: p.PreviousOffset()}),
		})
	}

	return links
}

// Link is a single page link, shaped like a FHIR Bundle link.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}
