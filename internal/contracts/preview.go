package contracts

const (
	// MessageTypeRender updates the browser with rendered markdown HTML.
	MessageTypeRender = "render"
)

// Renderer makes a complete markdown document visible to preview clients.
// Update is called once per decoded snapshot, never concurrently, and must
// return promptly.
type Renderer interface {
	Update(document string)
}

// Launcher opens a URL in a browser.
type Launcher interface {
	Open(url string) error
}

// RenderMessage carries rendered HTML and revision metadata to the browser.
type RenderMessage struct {
	Type  string `json:"type"`
	HTML  string `json:"html"`
	Title string `json:"title"`
	Rev   uint64 `json:"rev"`
}
