package mcpclient

import (
	"github.com/openai/openai-go"
	"github.com/shaharia-lab/mcpclient/mcp"
)

// OpenAITools converts tools into OpenAI function tool definitions.
func OpenAITools(tools []mcp.Tool) ([]openai.ChatCompletionToolParam, error) {
	params := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		schema, err := schemaMap(tool)
		if err != nil {
			return nil, err
		}

		params = append(params, openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.String(tool.Name),
				Description: openai.String(tool.Description),
				Parameters:  openai.F(openai.FunctionParameters(schema)),
			}),
		})
	}
	return params, nil
}

// OpenAIToolMessage builds the tool message answering toolCallID. OpenAI tool
// messages carry no error flag, so failures are prefixed in the text.
func OpenAIToolMessage(toolCallID string, result *mcp.ToolCallResult) openai.ChatCompletionMessageParamUnion {
	text := resultText(result)
	if resultIsError(result) {
		text = "error: " + text
	}
	return openai.ToolMessage(toolCallID, text)
}
