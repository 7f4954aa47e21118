package types

// DirectAccess is the origin recorded for the seed page, which has no referrer.
const DirectAccess = "Direct Access"

// StatusCompleted is the terminal stream status.
const StatusCompleted = "Completed"

// CrawlTarget is the immutable input of one crawl
type CrawlTarget struct {
	BaseURL      string `json:"url"`
	CheckAltText bool   `json:"checkAltText"`
	SearchTerm   string `json:"searchTerm,omitempty"`
}

// Results contains crawl statistics
type Results struct {
	Discovered int
	Processed  int
	Errors     int
	Waves      int
	Cancelled  bool
}

// FrontierItem represents a URL waiting in the frontier
type FrontierItem struct {
	URL      string
	Depth    int
	Referrer string
}

// PageResult contains the audit outcome of one fetched page
type PageResult struct {
	URL                string   `json:"url"`
	StatusCode         int      `json:"statusCode"`
	Origin             string   `json:"origin"`
	ImagesWithoutAlt   []string `json:"imagesWithoutAlt,omitempty"`
	ContainsSearchTerm *bool    `json:"containsSearchTerm,omitempty"`
	RedirectURL        string   `json:"redirectUrl,omitempty"`
	Error              string   `json:"error,omitempty"`

	Depth int `json:"-"`
}

// Failed reports whether the page is broken from an auditor's point of view.
func (r PageResult) Failed() bool {
	return r.Error != "" || r.StatusCode == 0 || r.StatusCode >= 400
}

// Progress is the running counter snapshot sent with every page result
type Progress struct {
	URLsFound     int `json:"urlsFound"`
	URLsProcessed int `json:"urlsProcessed"`
}

// Event is one unit of the progress stream. Exactly one of the shapes is populated:
// a page result with progress, a terminal status, or a fatal error.
type Event struct {
	URLStatus *PageResult `json:"urlStatus,omitempty"`
	Progress  *Progress   `json:"progress,omitempty"`
	Status    string      `json:"status,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ResultEvent wraps a page result and its progress snapshot.
func ResultEvent(result PageResult, progress *Progress) Event {
	return Event{URLStatus: &result, Progress: progress}
}

// CompletedEvent is the terminal event of a stream.
func CompletedEvent() Event {
	return Event{Status: StatusCompleted}
}

// ErrorEvent reports a stream-fatal error.
func ErrorEvent(err error) Event {
	return Event{Error: err.Error()}
}
