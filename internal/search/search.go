package search

// TopicRecord is the data indexed per topic candidate.
type TopicRecord struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Entities []string `json:"entities"`
	Cluster  string   `json:"cluster"`
	Platform string   `json:"platform"`
	Status   string   `json:"status"`
}

// Query describes a topic search request.
type Query struct {
	Text     string
	Status   string
	Cluster  string
	Platform string
	Limit    int
}

// Result is a single search hit.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet,omitempty"`
	Cluster  string `json:"cluster"`
	Platform string `json:"platform"`
	Status   string `json:"status"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text topic search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
