package conversation

import "strings"

// Context is a ranked document snippet supplied by the retrieval service.
type Context struct {
	ID               string `json:"id,omitempty"`
	ReadableFilename string `json:"readable_filename"`
	PageNumber       string `json:"pagenumber,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	URL              string `json:"url,omitempty"`
	S3Path           string `json:"s3_path,omitempty"`
	Text             string `json:"text"`
}

// CitationKey is the stable identifier the UI uses to resolve a citation back
// to its source document.
func (c Context) CitationKey() string {
	switch {
	case strings.TrimSpace(c.S3Path) != "":
		return c.S3Path
	case strings.TrimSpace(c.URL) != "":
		return c.URL
	case strings.TrimSpace(c.ID) != "":
		return c.ID
	default:
		return c.ReadableFilename
	}
}

// Citation maps the number shown to the model ("[2, page: 5]") onto the
// document it refers to.
type Citation struct {
	Index    int    `json:"index"`
	Key      string `json:"key"`
	Filename string `json:"filename"`
	Page     string `json:"page,omitempty"`
	URL      string `json:"url,omitempty"`
}
