package mcpclient

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/shaharia-lab/mcpclient/mcp"
)

// BedrockToolConfig converts tools into a Bedrock Converse tool
// configuration. It returns nil when tools is empty since Bedrock rejects an
// empty tool list.
func BedrockToolConfig(tools []mcp.Tool) (*types.ToolConfiguration, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	bedrockTools := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		schema, err := schemaMap(tool)
		if err != nil {
			return nil, err
		}

		spec := types.ToolSpecification{
			Name:        aws.String(tool.Name),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}
		if tool.Description != "" {
			spec.Description = aws.String(tool.Description)
		}
		bedrockTools = append(bedrockTools, &types.ToolMemberToolSpec{Value: spec})
	}
	return &types.ToolConfiguration{Tools: bedrockTools}, nil
}

// BedrockToolResult builds the toolResult content block answering toolUseID.
func BedrockToolResult(toolUseID string, result *mcp.ToolCallResult) types.ContentBlock {
	status := types.ToolResultStatusSuccess
	if resultIsError(result) {
		status = types.ToolResultStatusError
	}

	var content []types.ToolResultContentBlock
	if result != nil {
		for _, c := range result.Content {
			if c.Type == mcp.ContentTypeText {
				content = append(content, &types.ToolResultContentBlockMemberText{Value: c.Text})
			}
		}
	}
	if len(content) == 0 {
		content = append(content, &types.ToolResultContentBlockMemberText{Value: resultText(result)})
	}

	return &types.ContentBlockMemberToolResult{
		Value: types.ToolResultBlock{
			ToolUseId: aws.String(toolUseID),
			Status:    status,
			Content:   content,
		},
	}
}
