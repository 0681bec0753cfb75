package mcpclient

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shaharia-lab/mcpclient/mcp"
)

// AnthropicTools converts tools into Anthropic tool definitions.
func AnthropicTools(tools []mcp.Tool) ([]anthropic.ToolUnionUnionParam, error) {
	params := make([]anthropic.ToolUnionUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema, err := schemaMap(tool)
		if err != nil {
			return nil, err
		}

		params = append(params, anthropic.ToolParam{
			Name:        anthropic.F(tool.Name),
			Description: anthropic.F(tool.Description),
			InputSchema: anthropic.F(interface{}(schema)),
		})
	}
	return params, nil
}

// AnthropicToolResult builds the tool_result block answering toolUseID.
func AnthropicToolResult(toolUseID string, result *mcp.ToolCallResult) anthropic.ContentBlockParamUnion {
	return anthropic.NewToolResultBlock(toolUseID, resultText(result), resultIsError(result))
}
