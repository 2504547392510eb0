package turn

import (
	"strings"

	"github.com/arkveil/acpclient/internal/wire"
)

// ChatMessage is one prior turn in the conversation handed to chat_stream.
type ChatMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// ImageAttachment is inline base64 image data attached to a prompt.
type ImageAttachment struct {
	Data     string // base64
	MimeType string // defaults to image/png
}

// FileAttachment is a named text payload attached to a prompt.
type FileAttachment struct {
	Name     string
	Text     string
	MimeType string // defaults to text/plain
}

// DocumentResource is the single document the caller is editing, attached
// to give the agent context about open-file contents.
type DocumentResource struct {
	URI      string
	Text     string
	MimeType string // defaults to text/markdown
}

// PromptRequest is the input to chat_stream (spec.md §4.6).
type PromptRequest struct {
	Messages         []ChatMessage
	SystemPrompt     string
	Images           []ImageAttachment
	DocumentResource *DocumentResource
	FileAttachments  []FileAttachment
}

const (
	defaultDocumentMimeType = "text/markdown"
	defaultImageMimeType    = "image/png"
	defaultFileMimeType     = "text/plain"
)

// AssemblePrompt builds the content-block array for session/prompt,
// deterministically, per spec.md §4.6: a single composed text block
// first, followed by an optional document resource, then images, then
// file attachments, each in the order supplied.
func AssemblePrompt(req PromptRequest) []wire.ContentBlock {
	blocks := []wire.ContentBlock{wire.TextBlock(composeText(req))}

	if req.DocumentResource != nil {
		mime := req.DocumentResource.MimeType
		if mime == "" {
			mime = defaultDocumentMimeType
		}
		blocks = append(blocks, wire.ResourceContentBlock(req.DocumentResource.URI, req.DocumentResource.Text, mime))
	}

	for _, img := range req.Images {
		mime := img.MimeType
		if mime == "" {
			mime = defaultImageMimeType
		}
		blocks = append(blocks, wire.ImageBlock(img.Data, mime))
	}

	for _, f := range req.FileAttachments {
		mime := f.MimeType
		if mime == "" {
			mime = defaultFileMimeType
		}
		blocks = append(blocks, wire.ResourceContentBlock("file://attachment/"+f.Name, f.Text, mime))
	}

	return blocks
}

// composeText builds the single leading text block: an optional
// "[System] ..." paragraph, followed by one "User:"/"Assistant:"
// paragraph per prior message, each separated by a blank line.
func composeText(req PromptRequest) string {
	var paragraphs []string
	if req.SystemPrompt != "" {
		paragraphs = append(paragraphs, "[System] "+req.SystemPrompt)
	}
	for _, m := range req.Messages {
		prefix := "User:"
		if strings.EqualFold(m.Role, "assistant") {
			prefix = "Assistant:"
		}
		paragraphs = append(paragraphs, prefix+" "+m.Content)
	}
	return strings.Join(paragraphs, "\n\n")
}
