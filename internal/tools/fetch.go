package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/fernicar/gemini-cli/internal/agent"
	"github.com/fernicar/gemini-cli/internal/llm"
)

const (
	fetchTimeout  = 30 * time.Second
	maxFetchBytes = 1 << 20 // 1 MiB response cap
	maxFetchText  = 100 * 1024
)

// WebFetchTool fetches a URL and extracts readable text from HTML responses.
type WebFetchTool struct {
	client    *http.Client
	approvals *ProjectApprovals
}

func NewWebFetchTool(approvals *ProjectApprovals) *WebFetchTool {
	return &WebFetchTool{
		client:    &http.Client{Timeout: fetchTimeout},
		approvals: approvals,
	}
}

// WebFetchArgs are the arguments for web_fetch.
type WebFetchArgs struct {
	URL string `json:"url"`
}

func (t *WebFetchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WebFetchToolName,
		Description: "Fetch a URL over HTTP(S) and return its text content. HTML is reduced to readable text.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "The http or https URL to fetch",
				},
			},
			"required":             []string{"url"},
			"additionalProperties": false,
		},
	}
}

func (t *WebFetchTool) ValidateParams(args json.RawMessage) error {
	var a WebFetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return agent.NewToolErrorf(agent.ErrInvalidParams, "url must be http or https: %q", a.URL)
	}
	return nil
}

func (t *WebFetchTool) ShouldConfirm(ctx context.Context, args json.RawMessage) (*agent.ConfirmationRequest, error) {
	var a WebFetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	if t.approvals.AllowsTool(WebFetchToolName) {
		return nil, nil
	}
	return &agent.ConfirmationRequest{
		Summary: fmt.Sprintf("Fetch %s", a.URL),
	}, nil
}

func (t *WebFetchTool) Execute(ctx context.Context, args json.RawMessage, onOutput func(string)) (agent.ToolOutput, error) {
	var a WebFetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.ToolOutput{}, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrInvalidParams, "bad url: %v", err)
	}
	req.Header.Set("User-Agent", "gemini-cli/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "fetch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "fetch failed: %s returned %s", a.URL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "read failed: %v", err)
	}

	content := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		content = htmlToText(content)
	}
	content = truncateOutput(content, maxFetchText)

	return agent.ToolOutput{
		Content: content,
		Display: fmt.Sprintf("Fetched %s (%d bytes)", a.URL, len(body)),
	}, nil
}

// htmlToText extracts visible text from an HTML document, skipping script
// and style subtrees.
func htmlToText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}
