// Command mcpclient talks to a configured MCP server over stdio.
//
//	mcpclient [-config path] [-server name] [-o text|json] list
//	mcpclient [-config path] [-server name] [-o text|json] call <tool> [json-arguments]
//	mcpclient [-config path] [-o text|json] history [tool]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shaharia-lab/mcpclient"
	"github.com/shaharia-lab/mcpclient/config"
	"github.com/shaharia-lab/mcpclient/journal"
	"github.com/shaharia-lab/mcpclient/mcp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	serverName string
	outputFmt  string
	command    string
	args       []string
}

func parseArgs(args []string) (options, error) {
	var opts options
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-server" && i+1 < len(args):
			opts.serverName = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-server="):
			opts.serverName = strings.TrimPrefix(args[i], "-server=")
		case args[i] == "-o" && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case opts.command == "" && !strings.HasPrefix(args[i], "-"):
			opts.command = args[i]
		case opts.command != "":
			opts.args = append(opts.args, args[i])
		default:
			return options{}, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return options{}, fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}
	return opts, nil
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	switch opts.command {
	case "", "help":
		return printUsage(stdout)
	case "list", "call", "history":
	default:
		return fmt.Errorf("unknown command: %s", opts.command)
	}
	if opts.command == "call" && len(opts.args) == 0 {
		return fmt.Errorf("usage: mcpclient call <tool> [json-arguments]")
	}

	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	recorder, err := cfg.Journal.Open(logger)
	if err != nil {
		return err
	}
	defer recorder.Close()

	if opts.command == "history" {
		return runHistory(ctx, stdout, recorder, opts)
	}

	server, err := cfg.Server(opts.serverName)
	if err != nil {
		return err
	}

	client := mcp.NewClient(server.ClientConfig(logger))
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	if _, err := client.DiscoverTools(ctx); err != nil {
		return fmt.Errorf("failed to discover tools: %w", err)
	}

	provider := mcpclient.NewToolsProvider(
		mcpclient.WithLogger(logger),
		mcpclient.WithJournal(recorder),
		mcpclient.WithAllowedTools(server.AllowedTools...),
	)
	if err := provider.AddMCPClient(client); err != nil {
		return err
	}

	if opts.command == "list" {
		return runList(ctx, stdout, provider, opts.outputFmt)
	}
	return runCall(ctx, stdout, provider, opts)
}

func runList(ctx context.Context, w io.Writer, provider *mcpclient.ToolsProvider, outputFmt string) error {
	tools, err := provider.ListTools(ctx)
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		return writeJSON(w, tools)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
	}
	return tw.Flush()
}

func runCall(ctx context.Context, w io.Writer, provider *mcpclient.ToolsProvider, opts options) error {
	params := mcp.CallToolParams{Name: opts.args[0]}
	if len(opts.args) > 1 {
		raw := strings.Join(opts.args[1:], " ")
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("arguments are not valid JSON: %s", raw)
		}
		params.Arguments = json.RawMessage(raw)
	}

	result, err := provider.ExecuteTool(ctx, params)
	if err != nil {
		return err
	}

	if opts.outputFmt == "json" {
		if err := writeJSON(w, result); err != nil {
			return err
		}
	} else if text := result.Text(); text != "" {
		fmt.Fprintln(w, text)
	}

	if !result.Success {
		if result.Error != nil {
			return fmt.Errorf("tool %s failed: %w", params.Name, result.Error)
		}
		return fmt.Errorf("tool %s failed", params.Name)
	}
	return nil
}

func runHistory(ctx context.Context, w io.Writer, recorder journal.Recorder, opts options) error {
	filter := journal.Filter{Limit: 20}
	if len(opts.args) > 0 {
		filter.Tool = opts.args[0]
	}

	entries, err := recorder.List(ctx, filter)
	if err != nil {
		return err
	}
	if opts.outputFmt == "json" {
		return writeJSON(w, entries)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime), e.Tool, e.Source, status, e.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage(w io.Writer) error {
	_, err := fmt.Fprint(w, `Usage: mcpclient [flags] <command> [args]

Commands:
  list                       list the tools of the server
  call <tool> [json-args]    call a tool and print its text output
  history [tool]             show recent tool calls from the journal

Flags:
  -config <path>   config file (default: $MCPCLIENT_CONFIG, ./mcpclient.yaml)
  -server <name>   server to use (default: default_server)
  -o text|json     output format
`)
	return err
}
