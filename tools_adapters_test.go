package mcpclient

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go"
	"github.com/shaharia-lab/mcpclient/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weatherTool = mcp.Tool{
	Name:        "get_weather",
	Description: "Get weather for a location",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"location": {"type": "string", "description": "City name"},
			"days": {"type": "integer"},
			"units": {"type": "string", "enum": ["metric", "imperial"]},
			"hours": {"type": "array", "items": {"type": "number"}}
		},
		"required": ["location"]
	}`),
}

var bareTool = mcp.Tool{Name: "ping"}

var brokenSchemaTool = mcp.Tool{Name: "broken", InputSchema: json.RawMessage(`[1,2`)}

func okResult(text string) *mcp.ToolCallResult {
	return &mcp.ToolCallResult{Success: true, Content: []mcp.ToolResultContent{{Type: mcp.ContentTypeText, Text: text}}}
}

func failedResult(msg string) *mcp.ToolCallResult {
	return &mcp.ToolCallResult{Error: &mcp.Error{Kind: mcp.KindToolExecution, Message: msg}}
}

func TestAnthropicTools(t *testing.T) {
	params, err := AnthropicTools([]mcp.Tool{weatherTool, bareTool})
	require.NoError(t, err)
	require.Len(t, params, 2)

	tp, ok := params[0].(anthropic.ToolParam)
	require.True(t, ok)
	assert.Equal(t, "get_weather", tp.Name.Value)
	assert.Equal(t, "Get weather for a location", tp.Description.Value)

	schema, ok := tp.InputSchema.Value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []interface{}{"location"}, schema["required"])

	bare := params[1].(anthropic.ToolParam)
	assert.Equal(t, "object", bare.InputSchema.Value.(map[string]interface{})["type"])

	_, err = AnthropicTools([]mcp.Tool{brokenSchemaTool})
	assert.Error(t, err)
}

func TestAnthropicToolResult(t *testing.T) {
	block, ok := AnthropicToolResult("toolu_1", okResult("sunny")).(anthropic.ToolResultBlockParam)
	require.True(t, ok)
	assert.Equal(t, "toolu_1", block.ToolUseID.Value)
	assert.False(t, block.IsError.Value)

	block = AnthropicToolResult("toolu_2", failedResult("no such city")).(anthropic.ToolResultBlockParam)
	assert.True(t, block.IsError.Value)
}

func TestOpenAITools(t *testing.T) {
	params, err := OpenAITools([]mcp.Tool{weatherTool})
	require.NoError(t, err)
	require.Len(t, params, 1)

	assert.Equal(t, openai.ChatCompletionToolTypeFunction, params[0].Type.Value)
	fn := params[0].Function.Value
	assert.Equal(t, "get_weather", fn.Name.Value)
	assert.Equal(t, "object", fn.Parameters.Value["type"])

	_, err = OpenAITools([]mcp.Tool{brokenSchemaTool})
	assert.Error(t, err)
}

func TestOpenAIToolMessage(t *testing.T) {
	msg, ok := OpenAIToolMessage("call_1", failedResult("timeout")).(openai.ChatCompletionToolMessageParam)
	require.True(t, ok)
	assert.Equal(t, "call_1", msg.ToolCallID.Value)
}

func TestBedrockToolConfig(t *testing.T) {
	cfg, err := BedrockToolConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = BedrockToolConfig([]mcp.Tool{weatherTool, bareTool})
	require.NoError(t, err)
	require.Len(t, cfg.Tools, 2)

	spec, ok := cfg.Tools[0].(*types.ToolMemberToolSpec)
	require.True(t, ok)
	assert.Equal(t, "get_weather", aws.ToString(spec.Value.Name))
	assert.Equal(t, "Get weather for a location", aws.ToString(spec.Value.Description))
	_, ok = spec.Value.InputSchema.(*types.ToolInputSchemaMemberJson)
	assert.True(t, ok)

	bare := cfg.Tools[1].(*types.ToolMemberToolSpec)
	assert.Nil(t, bare.Value.Description)

	_, err = BedrockToolConfig([]mcp.Tool{brokenSchemaTool})
	assert.Error(t, err)
}

func TestBedrockToolResult(t *testing.T) {
	block, ok := BedrockToolResult("tu-1", okResult("sunny")).(*types.ContentBlockMemberToolResult)
	require.True(t, ok)
	assert.Equal(t, "tu-1", aws.ToString(block.Value.ToolUseId))
	assert.Equal(t, types.ToolResultStatusSuccess, block.Value.Status)
	require.Len(t, block.Value.Content, 1)
	assert.Equal(t, "sunny", block.Value.Content[0].(*types.ToolResultContentBlockMemberText).Value)

	block = BedrockToolResult("tu-2", failedResult("no such city")).(*types.ContentBlockMemberToolResult)
	assert.Equal(t, types.ToolResultStatusError, block.Value.Status)
	assert.Equal(t, "no such city", block.Value.Content[0].(*types.ToolResultContentBlockMemberText).Value)
}

func TestGeminiTools(t *testing.T) {
	tool, err := GeminiTools([]mcp.Tool{weatherTool, bareTool})
	require.NoError(t, err)
	require.Len(t, tool.FunctionDeclarations, 2)

	decl := tool.FunctionDeclarations[0]
	assert.Equal(t, "get_weather", decl.Name)
	require.NotNil(t, decl.Parameters)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, []string{"location"}, decl.Parameters.Required)
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["location"].Type)
	assert.Equal(t, "City name", decl.Parameters.Properties["location"].Description)
	assert.Equal(t, genai.TypeInteger, decl.Parameters.Properties["days"].Type)
	assert.Equal(t, []string{"metric", "imperial"}, decl.Parameters.Properties["units"].Enum)
	assert.Equal(t, genai.TypeArray, decl.Parameters.Properties["hours"].Type)
	assert.Equal(t, genai.TypeNumber, decl.Parameters.Properties["hours"].Items.Type)

	assert.Nil(t, tool.FunctionDeclarations[1].Parameters)
}

func TestGeminiTools_UnsupportedSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema string
	}{
		{"unknown type", `{"type":"object","properties":{"x":{"type":"date"}}}`},
		{"array without items", `{"type":"object","properties":{"x":{"type":"array"}}}`},
		{"invalid json", `{"type":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GeminiTools([]mcp.Tool{{Name: "x", InputSchema: json.RawMessage(tt.schema)}})
			assert.Error(t, err)
		})
	}
}

func TestGeminiFunctionResponse(t *testing.T) {
	resp := GeminiFunctionResponse("get_weather", okResult("sunny"))
	assert.Equal(t, "get_weather", resp.Name)
	assert.Equal(t, map[string]any{"content": "sunny"}, resp.Response)

	resp = GeminiFunctionResponse("get_weather", failedResult("no such city"))
	assert.Equal(t, map[string]any{"error": "no such city"}, resp.Response)
}
