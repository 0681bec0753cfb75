package mcpclient

import (
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/shaharia-lab/mcpclient/mcp"
)

// jsonSchema is the subset of JSON Schema that maps onto genai.Schema.
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Format      string                 `json:"format,omitempty"`
	Properties  map[string]*jsonSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *jsonSchema            `json:"items,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
}

var genaiTypes = map[string]genai.Type{
	"":        genai.TypeUnspecified,
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

func (s *jsonSchema) toGenai() (*genai.Schema, error) {
	if s == nil {
		return nil, nil
	}

	t, ok := genaiTypes[s.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported schema type %q", s.Type)
	}
	out := &genai.Schema{
		Type:        t,
		Format:      s.Format,
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}

	if t == genai.TypeArray {
		if s.Items == nil {
			return nil, fmt.Errorf("array schema has no items")
		}
		items, err := s.Items.toGenai()
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		out.Items = items
	}

	if t == genai.TypeObject && len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			converted, err := prop.toGenai()
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			out.Properties[name] = converted
		}
	}
	return out, nil
}

// GeminiTools converts tools into a single Gemini tool carrying one function
// declaration per tool.
func GeminiTools(tools []mcp.Tool) (*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
		}

		if len(tool.InputSchema) > 0 && string(tool.InputSchema) != "null" {
			var js jsonSchema
			if err := json.Unmarshal(tool.InputSchema, &js); err != nil {
				return nil, fmt.Errorf("failed to parse input schema of tool %q: %w", tool.Name, err)
			}
			params, err := js.toGenai()
			if err != nil {
				return nil, fmt.Errorf("failed to convert input schema of tool %q: %w", tool.Name, err)
			}
			decl.Parameters = params
		}
		decls = append(decls, decl)
	}
	return &genai.Tool{FunctionDeclarations: decls}, nil
}

// GeminiFunctionResponse builds the function response part answering a call to name.
func GeminiFunctionResponse(name string, result *mcp.ToolCallResult) genai.FunctionResponse {
	response := map[string]any{"content": resultText(result)}
	if resultIsError(result) {
		response = map[string]any{"error": resultText(result)}
	}
	return genai.FunctionResponse{Name: name, Response: response}
}
