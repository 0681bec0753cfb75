// Package mcpclient exposes the tools of MCP servers, alongside in-process
// tools, to LLM provider SDKs.
//
// A ToolsProvider merges local tools with the registries of connected
// mcp.Client sessions, enforces an optional allow-list and journals every
// execution. The Anthropic, OpenAI, Bedrock and Gemini helpers convert the
// provider's tools into each SDK's tool definitions and turn results back
// into the matching tool-result messages.
//
//	client := mcp.NewClient(mcp.ClientConfig{
//	    Transport: mcp.TransportConfig{Command: "weather-mcp"},
//	})
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	if _, err := client.DiscoverTools(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	provider := mcpclient.NewToolsProvider(mcpclient.WithJournal(journal.NewInMemoryRecorder()))
//	_ = provider.AddMCPClient(client)
//
//	tools, _ := provider.ListTools(ctx)
//	anthropicTools, err := mcpclient.AnthropicTools(tools)
package mcpclient
