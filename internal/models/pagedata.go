package models

// NetworkResponse is one captured JSON response observed while rendering
// a page (XHR/fetch traffic)
type NetworkResponse struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// PDFDoc is one PDF payload linked from or served by a page
type PDFDoc struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Data  []byte `json:"-"`
	Text  string `json:"text,omitempty"` // Extracted text, filled by the PDF extractor
}

// PageData is the fetcher output for one source
type PageData struct {
	Status           int               `json:"status"`
	FinalURL         string            `json:"final_url"`
	Title            string            `json:"title"`
	HTML             string            `json:"html"`
	LDJSONBlocks     []string          `json:"ldjson_blocks,omitempty"`
	EmbeddedState    map[string]string `json:"embedded_state,omitempty"` // window-attached blob name -> raw JSON
	NetworkResponses []NetworkResponse `json:"network_responses,omitempty"`
	PDFDocs          []PDFDoc          `json:"pdf_docs,omitempty"`
	ContentType      string            `json:"content_type,omitempty"`
	FetchError       string            `json:"fetch_error,omitempty"`
}
