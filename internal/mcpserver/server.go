// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the rule set and its match state to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/generalrules/internal/apperr"
	"github.com/starford/generalrules/internal/generalrule"
	"github.com/starford/generalrules/internal/index"
	"github.com/starford/generalrules/internal/parser"
	"github.com/starford/generalrules/internal/storage"
)

// FormatURI is the resource describing rule documents.
const FormatURI = "rules://format"

// Model is the part of generalrule.Model the tools drive.
type Model interface {
	State() generalrule.UiState
	Alert() string
	LoadData()
	SelectRule(ctx context.Context, id *string) bool
	DismissAlert()
}

// Server wraps the MCP server with the rule tools.
type Server struct {
	mcp   *server.MCPServer
	model Model
	store storage.Provider
	db    *index.DB
}

type stateResult struct {
	State generalrule.UiState `json:"state"`
	Alert string              `json:"alert,omitempty"`
}

// New creates a new MCP server with all tools registered.
func New(model Model, store storage.Provider, db *index.DB) *Server {
	s := &Server{model: model, store: store, db: db}

	s.mcp = server.NewMCPServer(
		"General Rules",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_rule_state",
		mcp.WithDescription("Return the current rule-set view: matched and unmatched rules, "+
			"match progress (0..1), the selected rule, and any pending alert."),
	), s.getRuleState)

	s.mcp.AddTool(mcp.NewTool("refresh_rules",
		mcp.WithDescription("Start a refresh pass. A running pass is cancelled first. "+
			"Poll get_rule_state to follow progress."),
	), s.refreshRules)

	s.mcp.AddTool(mcp.NewTool("select_rule",
		mcp.WithDescription("Select a rule in the current view. Omit rule_id to clear the selection. "+
			"Fails while the rule set is still loading."),
		mcp.WithString("rule_id", mcp.Description("ID of the rule to select")),
	), s.selectRule)

	s.mcp.AddTool(mcp.NewTool("dismiss_alert",
		mcp.WithDescription("Dismiss the alert raised by a failed rule sync."),
	), s.dismissAlert)

	s.mcp.AddTool(mcp.NewTool("search_rules",
		mcp.WithDescription("Search rules by name, company, description or keyword. "+
			"An empty query lists every rule."),
		mcp.WithString("query", mcp.Description("Search keyword")),
	), s.searchRules)

	s.mcp.AddTool(mcp.NewTool("get_matched_apps",
		mcp.WithDescription("List the installed package names a rule matched in the last pass."),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("Rule ID")),
	), s.getMatchedApps)

	s.mcp.AddTool(mcp.NewTool("read_rule",
		mcp.WithDescription("Read the source document of a rule."),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("Rule ID")),
	), s.readRule)

	s.mcp.AddTool(mcp.NewTool("create_rule",
		mcp.WithDescription("Create a local rule document and index it. "+
			"Read the contract first via get_rule_contract or the "+FormatURI+" resource."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Rule ID: letters, digits, '.', '_' or '-'")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
		mcp.WithString("keywords", mcp.Required(), mcp.Description("Comma-separated keywords")),
		mcp.WithString("company", mcp.Description("Company behind the SDK")),
		mcp.WithString("description", mcp.Description("Markdown description")),
		mcp.WithBoolean("use_regex", mcp.Description("Treat keywords as regular expressions")),
		mcp.WithBoolean("safe_to_block", mcp.Description("Blocking has no known side effects")),
	), s.createRule)

	s.mcp.AddTool(mcp.NewTool("get_rule_contract",
		mcp.WithDescription("Returns the rule document format contract."),
	), s.getRuleContract)

	// Resource: rule format contract.
	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Rule Format Contract",
			mcp.WithResourceDescription("Format of the Markdown rule documents in the rules directory."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) getRuleState(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(stateResult{State: s.model.State(), Alert: s.model.Alert()}), nil
}

func (s *Server) refreshRules(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.model.LoadData()
	return mcp.NewToolResultText("refresh started"), nil
}

func (s *Server) selectRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var id *string
	if v, err := req.RequireString("rule_id"); err == nil && v != "" {
		id = &v
	}
	if !s.model.SelectRule(ctx, id) {
		return mcp.NewToolResultError("rule set not loaded yet"), nil
	}
	return jsonResult(stateResult{State: s.model.State(), Alert: s.model.Alert()}), nil
}

func (s *Server) dismissAlert(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.model.DismissAlert()
	return mcp.NewToolResultText("alert dismissed"), nil
}

func (s *Server) searchRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := ""
	if q, err := req.RequireString("query"); err == nil {
		query = q
	}
	rules, err := s.db.SearchRules(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rules), nil
}

func (s *Server) getMatchedApps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("rule_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.db.GetRule(ctx, id); err != nil {
		return ruleError(id, err), nil
	}
	packages, err := s.db.MatchedApps(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(packages) == 0 {
		return mcp.NewToolResultText("no matched apps"), nil
	}
	return mcp.NewToolResultText(strings.Join(packages, "\n")), nil
}

func (s *Server) readRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("rule_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r, err := s.db.GetRule(ctx, id)
	if err != nil {
		return ruleError(id, err), nil
	}
	data, err := s.store.Read(r.Path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", r.Path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) createRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var h parser.Header
	var err error
	if h.ID, err = req.RequireString("id"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if h.Name, err = req.RequireString("name"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	keywords, err := req.RequireString("keywords")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h.Keywords = strings.Split(keywords, ",")
	if v, err := req.RequireString("company"); err == nil {
		h.Company = v
	}
	if v, err := req.RequireBool("use_regex"); err == nil {
		h.UseRegex = v
	}
	if v, err := req.RequireBool("safe_to_block"); err == nil {
		h.SafeToBlock = v
	}
	description := ""
	if v, err := req.RequireString("description"); err == nil {
		description = v
	}

	if _, err := s.db.GetRule(ctx, h.ID); err == nil {
		return mcp.NewToolResultError(fmt.Sprintf("rule already exists: %s", h.ID)), nil
	}
	data, err := parser.Render(h, description)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	path := h.ID + storage.DocumentExt
	if _, readErr := s.store.Read(path); readErr == nil {
		return mcp.NewToolResultError(fmt.Sprintf("document already exists: %s", path)), nil
	}
	if err := s.store.Write(path, data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := index.IndexDocument(ctx, s.db, path, data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// Recompute matches; stdio mode has no watcher to do it.
	s.model.LoadData()
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) getRuleContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RuleFormatContract), nil
}

func (s *Server) readFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/markdown",
			Text:     RuleFormatContract,
		},
	}, nil
}

func ruleError(id string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("rule not found: %s", id))
	}
	return mcp.NewToolResultError(err.Error())
}
