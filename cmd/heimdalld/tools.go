package main

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/heimdall-run/heimdall/internal/sandbox"
)

// registerTools binds each Coordinator operation to an MCP tool name,
// following the naming convention picoclaw's mcp_tool.go normalizes
// third-party tool identifiers to (lowercase, underscore-separated).
func registerTools(server *mcp.Server, c *sandbox.Coordinator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "write_file",
		Description: "Write UTF-8 text content to a file inside the sandbox workspace.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args writeFileArgs) (*mcp.CallToolResult, toolResultOutput, error) {
		return toCallResult(c.WriteFile(args.Path, args.Content))
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_file",
		Description: "Read UTF-8 text content from a file inside the sandbox workspace.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args readFileArgs) (*mcp.CallToolResult, toolResultOutput, error) {
		return toCallResult(c.ReadFile(args.Path))
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_files",
		Description: "List the entries of a directory inside the sandbox workspace.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listFilesArgs) (*mcp.CallToolResult, toolResultOutput, error) {
		return toCallResult(c.ListFiles(args.Dir))
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_file",
		Description: "Delete a file or directory inside the sandbox workspace.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args deleteFileArgs) (*mcp.CallToolResult, toolResultOutput, error) {
		return toCallResult(c.DeleteFile(args.Path))
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_python",
		Description: "Execute Python source against the sandbox workspace and return stdout, stderr, and the final expression value.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args executePythonArgs) (*mcp.CallToolResult, toolResultOutput, error) {
		return toCallResult(c.ExecutePython(args.Code, args.Packages))
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_bash",
		Description: "Run a bash command string against the sandbox workspace and return stdout, stderr, and exit code.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args executeBashArgs) (*mcp.CallToolResult, toolResultOutput, error) {
		return toCallResult(c.ExecuteBash(ctx, args.Command, args.Cwd))
	})
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type readFileArgs struct {
	Path string `json:"path"`
}

type listFilesArgs struct {
	Dir string `json:"dir,omitempty"`
}

type deleteFileArgs struct {
	Path string `json:"path"`
}

type executePythonArgs struct {
	Code     string   `json:"code"`
	Packages []string `json:"packages,omitempty"`
}

type executeBashArgs struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

// toolResultOutput mirrors sandbox.ToolResult as the MCP tool's
// structured output type.
type toolResultOutput = sandbox.ToolResult

func toCallResult(result sandbox.ToolResult) (*mcp.CallToolResult, toolResultOutput, error) {
	text := result.Content
	if text == "" {
		text = result.Stdout
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: !result.Success,
	}, result, nil
}
