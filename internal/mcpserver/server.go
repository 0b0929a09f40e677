// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the memory tree as tools for LLM integration.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/memtree/internal/apperr"
	"github.com/starford/memtree/internal/memstore"
	"github.com/starford/memtree/internal/models"
)

const (
	serverName    = "memtree"
	serverVersion = "1.0.0"
)

// Server wraps the MCP server with the memory tools.
type Server struct {
	mcp    *server.MCPServer
	store  *memstore.Store
	logger *slog.Logger
}

// New creates a new MCP server with all memory tools registered.
func New(store *memstore.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: store, logger: logger}

	s.mcp = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithInstructions("Memories form a tree. Every tool addresses a memory by its position: "+
			"the list of descriptions from the root down. The empty list is the root. "+
			"Read the "+PositionModelURI+" resource for details."),
	)

	s.mcp.AddTool(mcp.NewTool("add_memory",
		mcp.WithDescription("Add a new memory under the memory at the given position. "+
			"The description becomes the new memory's key and must be unique among its siblings."),
		positionArg("Position of the parent memory ([] for the root)"),
		mcp.WithString("description", mcp.Required(), mcp.Description("Key of the new memory, unique among its siblings")),
		mcp.WithString("content", mcp.Description("Optional body text")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Optional list of tags")),
		mcp.WithString("author", mcp.Description("Author of the memory (defaults to \"user\")")),
	), s.addMemory)

	s.mcp.AddTool(mcp.NewTool("read_memory",
		mcp.WithDescription("Read a memory at the given position. Records the access."),
		positionArg("Position of the memory to read ([] for the root)"),
	), s.readMemory)

	s.mcp.AddTool(mcp.NewTool("list_children",
		mcp.WithDescription("List the direct children of the memory at the given position, in insertion order."),
		positionArg("Position of the memory whose children to list ([] for the root)"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.listChildren)

	s.mcp.AddTool(mcp.NewTool("edit_memory",
		mcp.WithDescription("Edit a memory at the given position. Only the provided fields change. "+
			"Renaming (a new description) moves the memory's position. The root cannot be edited."),
		positionArg("Position of the memory to edit"),
		mcp.WithString("description", mcp.Description("New key, unique among its siblings")),
		mcp.WithString("content", mcp.Description("New body text")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("New tags; replaces the existing list")),
	), s.editMemory)

	s.mcp.AddTool(mcp.NewTool("remove_memory",
		mcp.WithDescription("Remove a memory and its whole subtree. The root cannot be removed."),
		positionArg("Position of the memory to remove"),
		mcp.WithDestructiveHintAnnotation(true),
	), s.removeMemory)

	s.mcp.AddResource(
		mcp.NewResource(PositionModelURI, "Position Model",
			mcp.WithResourceDescription("How memories are addressed by position."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPositionModelResource,
	)

	return s
}

func positionArg(desc string) mcp.ToolOption {
	return mcp.WithArray("position", mcp.Required(), mcp.WithStringItems(), mcp.Description(desc))
}

// ServeStdio serves MCP over the given streams until ctx is cancelled or
// stdin is closed.
func (s *Server) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(slogWriter{s.logger}, "", 0))
	return stdio.Listen(ctx, stdin, stdout)
}

// MCPServer returns the underlying server, for mounting on other transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// slogWriter adapts the stdio transport's *log.Logger onto slog.
type slogWriter struct{ logger *slog.Logger }

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Error("mcp: stdio", slog.String("error", string(p)))
	return len(p), nil
}

func (s *Server) addMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	position, err := req.RequireStringSlice("position")
	if err != nil {
		return toolError(err.Error()), nil
	}
	description, err := req.RequireString("description")
	if err != nil {
		return toolError(err.Error()), nil
	}
	content, err := optionalString(req, "content")
	if err != nil {
		return toolError(err.Error()), nil
	}
	tags, err := optionalStringSlice(req, "tags")
	if err != nil {
		return toolError(err.Error()), nil
	}
	author := models.DefaultAuthor
	explicit, err := optionalString(req, "author")
	if err != nil {
		return toolError(err.Error()), nil
	}
	if explicit != nil {
		author = *explicit
	}

	var tagList []string
	if tags != nil {
		tagList = *tags
	}
	res, err := s.store.Add(ctx, position, description, content, tagList, author)
	if err != nil {
		return s.failure("add_memory", err)
	}
	return jsonResult(res)
}

func (s *Server) readMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	position, err := req.RequireStringSlice("position")
	if err != nil {
		return toolError(err.Error()), nil
	}
	res, err := s.store.Read(ctx, position)
	if err != nil {
		return s.failure("read_memory", err)
	}
	return jsonResult(res)
}

func (s *Server) listChildren(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	position, err := req.RequireStringSlice("position")
	if err != nil {
		return toolError(err.Error()), nil
	}
	res, err := s.store.ListChildren(ctx, position)
	if err != nil {
		return s.failure("list_children", err)
	}
	return jsonResult(res)
}

func (s *Server) editMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	position, err := req.RequireStringSlice("position")
	if err != nil {
		return toolError(err.Error()), nil
	}
	var edit memstore.EditRequest
	if edit.Description, err = optionalString(req, "description"); err != nil {
		return toolError(err.Error()), nil
	}
	if edit.Content, err = optionalString(req, "content"); err != nil {
		return toolError(err.Error()), nil
	}
	if edit.Tags, err = optionalStringSlice(req, "tags"); err != nil {
		return toolError(err.Error()), nil
	}

	res, err := s.store.Edit(ctx, position, edit)
	if err != nil {
		return s.failure("edit_memory", err)
	}
	return jsonResult(res)
}

func (s *Server) removeMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	position, err := req.RequireStringSlice("position")
	if err != nil {
		return toolError(err.Error()), nil
	}
	res, err := s.store.Remove(ctx, position)
	if err != nil {
		return s.failure("remove_memory", err)
	}
	return jsonResult(res)
}

func (s *Server) readPositionModelResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      PositionModelURI,
			MIMEType: "text/markdown",
			Text:     PositionModelContract,
		},
	}, nil
}

// failure turns expected store errors into tool errors the model can act on.
// Anything else (a failed persist) surfaces as a protocol error.
func (s *Server) failure(tool string, err error) (*mcp.CallToolResult, error) {
	if apperr.IsExpected(err) {
		return toolError(err.Error()), nil
	}
	s.logger.Error("mcp: tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	return nil, fmt.Errorf("%s: %w", tool, err)
}

func toolError(msg string) *mcp.CallToolResult {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return mcp.NewToolResultError(string(out))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// optionalString returns nil when key is absent or null.
func optionalString(req mcp.CallToolRequest, key string) (*string, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	str, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a string", key)
	}
	return &str, nil
}

// optionalStringSlice returns nil when key is absent or null, and a pointer to
// an empty slice for an explicit [].
func optionalStringSlice(req mcp.CallToolRequest, key string) (*[]string, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch items := v.(type) {
	case []string:
		out := append([]string{}, items...)
		return &out, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q must be an array of strings", key)
			}
			out = append(out, str)
		}
		return &out, nil
	default:
		return nil, fmt.Errorf("argument %q must be an array of strings", key)
	}
}
