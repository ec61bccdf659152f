// Package mcpkb implements a research.Fetcher backed by a Model Context
// Protocol knowledge-base server. Institutional archives that ship as MCP
// servers (regional mirrors of ISS and AIFA datasets, hospital guideline
// stores) advertise a search tool; the fetcher calls it and decodes the
// document list from the tool's text content.
//
// The tool contract: arguments {"term", "limit", "language"}, response text
// content carrying {"results": [document, ...]} in the shared gateway
// document shape.
package mcpkb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aulavox/aulavox/internal/fetch"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/types"
)

const (
	clientName    = "aulavox-research"
	clientVersion = "1.0.0"

	// DefaultTool is the search tool name knowledge-base servers are
	// expected to advertise.
	DefaultTool = "search_documents"

	defaultLimit = 5
)

// Compile-time assertion that Fetcher implements research.Fetcher.
var _ research.Fetcher = (*Fetcher)(nil)

// Option is a functional option for configuring a Fetcher.
type Option func(*Fetcher)

// WithTool overrides the search tool name.
func WithTool(name string) Option {
	return func(f *Fetcher) {
		if name != "" {
			f.tool = name
		}
	}
}

// WithOfficial marks every result as coming from an official institutional
// publisher.
func WithOfficial(official bool) Option {
	return func(f *Fetcher) {
		f.official = official
	}
}

// Fetcher holds one MCP session with a knowledge-base server. Safe for
// concurrent use; the SDK session multiplexes calls.
type Fetcher struct {
	source   types.SourceType
	tool     string
	official bool
	session  *mcpsdk.ClientSession
}

// Connect dials the knowledge-base server over the given transport and
// verifies the search tool is advertised. The caller owns the fetcher and
// must Close it when done.
func Connect(ctx context.Context, source types.SourceType, transport mcpsdk.Transport, opts ...Option) (*Fetcher, error) {
	if source == "" {
		return nil, types.Errorf(types.KindConfiguration, "mcpkb: source type is required")
	}
	f := &Fetcher{
		source: source,
		tool:   DefaultTool,
	}
	for _, opt := range opts {
		opt(f)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, types.Errorf(types.KindTransient, "mcpkb: connect %s: %v", source, err)
	}

	found := false
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, types.Errorf(types.KindTransient, "mcpkb: list %s tools: %v", source, err)
		}
		if tool.Name == f.tool {
			found = true
			break
		}
	}
	if !found {
		_ = session.Close()
		return nil, types.Errorf(types.KindConfiguration, "mcpkb: %s server does not advertise tool %q", source, f.tool)
	}

	f.session = session
	return f, nil
}

// Dial connects over streamable HTTP, the transport institutional servers
// usually expose.
func Dial(ctx context.Context, source types.SourceType, endpoint string, opts ...Option) (*Fetcher, error) {
	if endpoint == "" {
		return nil, types.Errorf(types.KindConfiguration, "mcpkb: endpoint is required for %s", source)
	}
	return Connect(ctx, source, &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, opts...)
}

// Search implements research.Fetcher.
func (f *Fetcher) Search(ctx context.Context, q research.Query) ([]types.MedicalSource, error) {
	if strings.TrimSpace(q.Term) == "" {
		return nil, types.Errorf(types.KindValidation, "mcpkb: empty search term")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	args := map[string]any{
		"term":  q.Term,
		"limit": limit,
	}
	if q.Language != "" {
		args["language"] = q.Language
	}

	res, err := f.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      f.tool,
		Arguments: args,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, types.Errorf(types.KindTransient, "mcpkb: call %s on %s: %v", f.tool, f.source, err)
	}

	text := textContent(res)
	if res.IsError {
		return nil, types.Errorf(types.KindExternal, "mcpkb: %s tool failed: %s", f.source, text)
	}
	if text == "" {
		return nil, types.Errorf(types.KindExternal, "mcpkb: %s returned no text content", f.source)
	}

	var out struct {
		Results []fetch.Document `json:"results"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, types.Errorf(types.KindExternal, "mcpkb: %s: parse tool payload: %v", f.source, err)
	}

	sources := make([]types.MedicalSource, 0, len(out.Results))
	for i, doc := range out.Results {
		sources = append(sources, doc.MedicalSource(f.source, f.official, i))
	}
	return sources, nil
}

// Source implements research.Fetcher.
func (f *Fetcher) Source() types.SourceType {
	return f.source
}

// Close shuts the MCP session down.
func (f *Fetcher) Close() error {
	if f.session == nil {
		return nil
	}
	if err := f.session.Close(); err != nil {
		return fmt.Errorf("mcpkb: close %s session: %w", f.source, err)
	}
	return nil
}

// textContent concatenates the text blocks of a tool result.
func textContent(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
