package mcpclient

import (
	"encoding/json"
	"fmt"

	"github.com/shaharia-lab/mcpclient/mcp"
)

// schemaMap decodes a tool input schema into a generic map. Tools without a
// schema accept an empty object.
func schemaMap(tool mcp.Tool) (map[string]interface{}, error) {
	if len(tool.InputSchema) == 0 || string(tool.InputSchema) == "null" {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}, nil
	}

	var schema map[string]interface{}
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse input schema of tool %q: %w", tool.Name, err)
	}
	return schema, nil
}

// resultText is the text handed back to a model for a tool result.
func resultText(result *mcp.ToolCallResult) string {
	if result == nil {
		return ""
	}
	text := result.Text()
	if text == "" && result.Error != nil {
		text = result.Error.Message
	}
	return text
}

func resultIsError(result *mcp.ToolCallResult) bool {
	return result == nil || !result.Success
}
