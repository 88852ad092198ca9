package llm

import (
	"strings"
	"testing"
)

func toolResultParts(result *ToolResult) []Part {
	return []Part{{Type: PartToolResult, ToolResult: result}}
}

func TestGeminiToolResultShapes(t *testing.T) {
	tests := []struct {
		name    string
		result  *ToolResult
		wantKey string
	}{
		{"success", &ToolResult{ID: "c1", Name: "read_file", Content: "hello"}, "output"},
		{"error", &ToolResult{ID: "c1", Name: "read_file", Content: "boom", IsError: true}, "error"},
		{"cancelled", &ToolResult{ID: "c1", Name: "shell", Content: "Tool call cancelled by user.", Cancelled: true}, "cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := buildGeminiToolResultContent(toolResultParts(tt.result))
			if content == nil || len(content.Parts) != 1 {
				t.Fatalf("expected one part, got %+v", content)
			}
			resp := content.Parts[0].FunctionResponse
			if resp == nil {
				t.Fatal("missing function response")
			}
			if _, ok := resp.Response[tt.wantKey]; !ok {
				t.Errorf("response %v missing %q key", resp.Response, tt.wantKey)
			}
			if len(resp.Response) != 1 {
				t.Errorf("response should carry exactly one shape key, got %v", resp.Response)
			}
		})
	}
}

func TestAnthropicToolResultShapes(t *testing.T) {
	block := toolResultBlock(&ToolResult{ID: "c1", Name: "shell", Content: "Tool call cancelled by user.", Cancelled: true})
	param := block.OfToolResult
	if param == nil {
		t.Fatal("expected tool result block")
	}
	if !param.IsError.Value {
		t.Error("cancelled result must be error-flagged on the wire")
	}
	text := param.Content[0].OfText.Text
	if !strings.HasPrefix(text, "[cancelled]") {
		t.Errorf("cancellation marker missing: %q", text)
	}

	block = toolResultBlock(&ToolResult{ID: "c2", Name: "read_file", Content: "hello"})
	param = block.OfToolResult
	if param.IsError.Value {
		t.Error("successful result must not be error-flagged")
	}
	if param.Content[0].OfText.Text != "hello" {
		t.Errorf("content altered: %q", param.Content[0].OfText.Text)
	}
}
