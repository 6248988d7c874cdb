package llm

// Message is one turn of conversation history sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AttachmentDecl declares a previously uploaded document for a generation
// call, together with the capabilities the turn needs from it.
type AttachmentDecl struct {
	DocumentID   string   `json:"document_id"`
	Handle       string   `json:"handle"`
	Title        string   `json:"title"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ContentBlock is one segment of a provider response. Text blocks may carry
// citations; tool blocks carry a name and input payload instead.
type ContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Citations []RawCitation  `json:"citations,omitempty"`
	ToolName  string         `json:"name,omitempty"`
	ToolInput map[string]any `json:"input,omitempty"`
}

// RawCitation is a provider citation payload before reconciliation. Location
// fields are populated according to Type; DocumentIndex refers to the
// position of the document in the request's attachment list.
type RawCitation struct {
	Type            string `json:"type"`
	DocumentIndex   int    `json:"document_index"`
	DocumentTitle   string `json:"document_title,omitempty"`
	CitedText       string `json:"cited_text"`
	StartPageNumber int    `json:"start_page_number,omitempty"`
	EndPageNumber   int    `json:"end_page_number,omitempty"`
	StartCharIndex  int    `json:"start_char_index,omitempty"`
	EndCharIndex    int    `json:"end_char_index,omitempty"`
	StartBlockIndex int    `json:"start_block_index,omitempty"`
	EndBlockIndex   int    `json:"end_block_index,omitempty"`
}

// GenerateRequest describes one generation call. Attachments reference files
// already uploaded to the provider.
type GenerateRequest struct {
	Model       string
	System      string
	MaxTokens   int
	Messages    []Message
	Attachments []AttachmentDecl
}

// MessageResponse is a complete (non-streamed) generation result.
type MessageResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// Stream event kinds, normalized from the provider's wire format. These are
// the only kinds the engine re-emits upward.
const (
	EventTextDelta       = "text-delta"
	EventCitationDelta   = "citation-delta"
	EventToolStart       = "tool-start"
	EventToolComplete    = "tool-complete"
	EventMessageComplete = "message-complete"
	EventError           = "error"
)

// StreamEvent is one normalized event from an in-flight generation call.
type StreamEvent struct {
	Type       string
	BlockIndex int
	Text       string
	Citation   *RawCitation
	ToolName   string
	Response   *MessageResponse
	Err        error
}
