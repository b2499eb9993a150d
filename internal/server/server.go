// Package server assembles the Provider Registry, Conversation Store,
// History Builder, and Dispatcher into a running process and exposes the
// dispatcher's tool catalog over MCP (Model Context Protocol) stdio — the
// wire format this server's external AI-assistant clients actually speak.
// The lifecycle shape (Options struct, New/Run/Shutdown, config hot-reload
// plumbed through a callback) is adapted from the teacher's pkg/server.Server,
// narrowed from its dual gRPC+REST transport down to the single stdio
// transport mcp-go already gives the pack (the teacher only used mcp-go as a
// client, in pkg/tool/mcptoolset; here it is the server side of that same
// library).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/dispatcher"
	"github.com/jukasdrj/zen-mcp-server/internal/history"
	"github.com/jukasdrj/zen-mcp-server/internal/provider"
	"github.com/jukasdrj/zen-mcp-server/internal/registry"
	"github.com/jukasdrj/zen-mcp-server/internal/store"
	"github.com/jukasdrj/zen-mcp-server/internal/tool"
	"github.com/jukasdrj/zen-mcp-server/internal/zenconfig"
)

// courtesyRPS bounds outbound provider calls per backend; the rate is fixed
// here, not read from config — a courtesy limiter only, not enforcement of
// any vendor's actual rate limit (see SPEC_FULL.md "NON-GOALS").
const courtesyRPS = 5

// Options configures a Server.
type Options struct {
	Config *zenconfig.Config
	Port   int // HTTP port serving /metrics and /healthz
}

// Server owns the process's long-lived collaborators and both of its
// transports: MCP stdio for tool calls, plain HTTP for metrics/health.
type Server struct {
	opts Options

	registry *registry.ProviderRegistry
	store    *store.Store
	history  *history.Builder
	disp     *dispatcher.Dispatcher

	mcp        *mcpserver.MCPServer
	httpServer *http.Server
}

// New builds every collaborator from cfg but does not start serving.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server: config is required")
	}

	reg := registry.New()
	if err := buildBackends(context.Background(), reg, opts.Config); err != nil {
		return nil, fmt.Errorf("server: failed to build provider backends: %w", err)
	}
	reg.SetRestrictionPolicy(restrictionPolicyFrom(opts.Config))

	st := store.New()
	hb, err := history.NewBuilder(st)
	if err != nil {
		return nil, fmt.Errorf("server: failed to build history builder: %w", err)
	}

	disp := dispatcher.New()
	registerTools(disp, reg, st, hb, opts.Config)

	s := &Server{
		opts:     opts,
		registry: reg,
		store:    st,
		history:  hb,
		disp:     disp,
	}
	s.mcp = s.buildMCPServer()
	return s, nil
}

// buildBackends constructs one Backend per configured provider, grouping
// zenconfig.ModelEntry rows by provider and handing each backend its
// capability.Descriptor set. Construction fans out with errgroup since the
// Gemini client performs a handshake (the others are pure local
// constructors) — grounded on the teacher's runtime.NewWithConfig agent
// fan-out in pkg/runtime. OpenAI, Anthropic and Gemini need an API key; a
// provider of those types with no key configured is not registered.
func buildBackends(ctx context.Context, reg *registry.ProviderRegistry, cfg *zenconfig.Config) error {
	byProvider := map[capability.ProviderType][]*capability.Descriptor{}
	for _, m := range cfg.Models {
		d, err := capability.New(m.ToDescriptorOptions())
		if err != nil {
			return fmt.Errorf("model %q: %w", m.ModelName, err)
		}
		pt := capability.ProviderType(m.Provider)
		byProvider[pt] = append(byProvider[pt], d)
	}

	var (
		mu       sync.Mutex
		backends []provider.Backend
	)
	g, gctx := errgroup.WithContext(ctx)
	for pt, descriptors := range byProvider {
		pt, descriptors := pt, descriptors
		cred := cfg.Providers[string(pt)]
		switch pt {
		case capability.ProviderOpenAI, capability.ProviderAnthropic, capability.ProviderGemini:
			if cred.APIKey == "" {
				slog.Warn("provider has no API key configured; not registering it", "provider", pt)
				continue
			}
		}
		g.Go(func() error {
			b, err := newBackend(gctx, pt, cred, descriptors)
			if err != nil {
				return fmt.Errorf("provider %q: %w", pt, err)
			}
			mu.Lock()
			backends = append(backends, rateLimited(b, rate.Limit(courtesyRPS)))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, b := range backends {
		if err := reg.RegisterBackend(b); err != nil {
			return err
		}
	}
	return nil
}

func newBackend(ctx context.Context, pt capability.ProviderType, cred zenconfig.ProviderCredential, descriptors []*capability.Descriptor) (provider.Backend, error) {
	switch pt {
	case capability.ProviderOpenAI:
		return provider.NewOpenAIBackend(cred.APIKey, descriptors), nil
	case capability.ProviderAnthropic:
		return provider.NewAnthropicBackend(cred.APIKey, descriptors), nil
	case capability.ProviderGemini:
		return provider.NewGeminiBackend(ctx, cred.APIKey, descriptors)
	case capability.ProviderOllama:
		baseURL := cred.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return provider.NewOllamaBackend(baseURL, descriptors), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pt)
	}
}

// restrictionPolicyFrom turns the config's allow/deny lists into a
// registry.RestrictionPolicy, defaulting to AllowAll when both are empty.
func restrictionPolicyFrom(cfg *zenconfig.Config) registry.RestrictionPolicy {
	if len(cfg.Restriction.AllowedModels) == 0 && len(cfg.Restriction.DeniedModels) == 0 {
		return registry.AllowAll{}
	}
	return newAllowDenyPolicy(cfg.Restriction.AllowedModels, cfg.Restriction.DeniedModels)
}

// categoryTimeout looks up the configured timeout for a tool category,
// falling back to dispatcher.DefaultTimeout (spec's ambient per-category
// timeout table, SPEC_FULL "SUPPLEMENTED FEATURES").
func categoryTimeout(cfg *zenconfig.Config, cat capability.Category) time.Duration {
	ms, ok := cfg.CategoryTimeoutsMS[string(cat)]
	if !ok || ms <= 0 {
		return dispatcher.DefaultTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// registerTools wires the tool catalog's base members — chat (simple) and
// debug (workflow) — which exercise every collaborator end to end (spec
// scenarios S1/S2/S6). Additional tools (codereview, planner, consensus,
// ...) plug into the same two binder shapes.
func registerTools(disp *dispatcher.Dispatcher, reg *registry.ProviderRegistry, st *store.Store, hb *history.Builder, cfg *zenconfig.Config) {
	chat := &tool.SimpleTool{
		Name:         "chat",
		Category:     capability.CategoryGeneral,
		SystemPrompt: "You are a senior engineering collaborator. Be direct and concrete.",
		Registry:     reg,
		Store:        st,
		History:      hb,
	}
	disp.RegisterSimple("chat", bindBase, chat, categoryTimeout(cfg, capability.CategoryGeneral))

	debug := &tool.WorkflowTool{
		Name:         "debug",
		Category:     capability.CategoryReasoning,
		SystemPrompt: "You are investigating a bug through a disciplined, stepwise trace. Do not guess; report findings and confidence honestly.",
		Expert:       tool.ExpertCall{},
		Registry:     reg,
		Store:        st,
	}
	disp.RegisterWorkflow("debug", bindWorkflow, debug, categoryTimeout(cfg, capability.CategoryReasoning))
}

// buildMCPServer registers the dispatcher's tool catalog as MCP tools,
// translating each incoming mcp.CallToolRequest into a Dispatch call.
func (s *Server) buildMCPServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("zen-mcp-server", "1.0.0")

	srv.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("General-purpose collaborative chat with any configured model."),
			mcp.WithString("prompt", mcp.Required(), mcp.Description("The question or instruction for the model.")),
			mcp.WithString("model", mcp.Description(`Canonical model name, an alias, or "auto".`)),
			mcp.WithString("continuation_id", mcp.Description("Thread ID to continue a prior conversation.")),
			mcp.WithString("working_directory_absolute_path", mcp.Required()),
			mcp.WithArray("absolute_file_paths", mcp.Items(map[string]any{"type": "string"})),
		),
		s.handleDispatch("chat"),
	)

	srv.AddTool(
		mcp.NewTool("debug",
			mcp.WithDescription("Multi-step investigation workflow: plan, investigate, and validate a root cause."),
			mcp.WithString("step", mcp.Required()),
			mcp.WithNumber("step_number", mcp.Required()),
			mcp.WithNumber("total_steps", mcp.Required()),
			mcp.WithBoolean("next_step_required", mcp.Required()),
			mcp.WithString("findings"),
			mcp.WithString("hypothesis"),
			mcp.WithString("confidence"),
			mcp.WithString("model"),
			mcp.WithString("continuation_id"),
			mcp.WithString("working_directory_absolute_path", mcp.Required()),
		),
		s.handleDispatch("debug"),
	)

	srv.AddTool(
		mcp.NewTool("list_models",
			mcp.WithDescription("List every configured model's canonical name, aliases, and capability subset, for client-side candidate ranking."),
		),
		s.handleListModels,
	)

	return srv
}

// handleListModels serves the model catalog (spec §6 "Model catalog
// interface") as an MCP tool call, the same data the /models HTTP route
// returns.
func (s *Server) handleListModels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(s.ModelCatalog())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode model catalog: %s", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleDispatch adapts the dispatcher's {tool_name, arguments} -> Response
// contract to mcp-go's ToolHandlerFunc shape.
func (s *Server) handleDispatch(toolName string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp := s.disp.Dispatch(ctx, toolName, req.GetArguments())
		if !resp.Success {
			msg := "tool call failed"
			if resp.Error != nil {
				msg = fmt.Sprintf("%s: %s", resp.Error.Kind, resp.Error.Message)
			}
			return mcp.NewToolResultError(msg), nil
		}
		return mcp.NewToolResultText(resp.Content), nil
	}
}

// Run starts both transports and blocks until ctx is cancelled or a
// transport fails. The TTL sweep loop also runs here, since it's the
// server's own background maintenance, not a per-request concern.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toolCatalog()); err != nil {
			slog.Error("failed to encode tool catalog", "error", err)
		}
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.ModelCatalog()); err != nil {
			slog.Error("failed to encode model catalog", "error", err)
		}
	})
	s.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", s.opts.Port), Handler: mux}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("http observability surface listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go s.runSweepLoop(ctx)

	go func() {
		slog.Info("serving tool catalog over MCP stdio")
		if err := mcpserver.ServeStdio(s.mcp); err != nil {
			errCh <- fmt.Errorf("mcp stdio server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// runSweepLoop periodically reclaims threads past their TTL (spec §4.2
// point 4). A quarter of the TTL is a reasonable sweep cadence: frequent
// enough that memory doesn't balloon, rare enough not to matter under the
// store's own per-thread locking.
func (s *Server) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(store.DefaultTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.store.Sweep(time.Now()); n > 0 {
				slog.Info("swept expired threads", "count", n)
			}
		}
	}
}

// ApplyRestrictionPolicy hot-swaps the restriction policy after a config
// reload (spec's ambient hot-reload requirement; grounded on the teacher's
// configLoader.SetOnChange wiring in pkg/server.Server).
func (s *Server) ApplyRestrictionPolicy(cfg *zenconfig.Config) error {
	s.registry.SetRestrictionPolicy(restrictionPolicyFrom(cfg))
	slog.Info("restriction policy reloaded",
		"allowed", len(cfg.Restriction.AllowedModels),
		"denied", len(cfg.Restriction.DeniedModels))
	return nil
}

// Shutdown drains the dispatcher, runs a final TTL sweep, and stops the HTTP
// server. The MCP stdio transport is not stopped here.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.disp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	s.store.Sweep(time.Now())
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("server: shutdown errors: %v", errs)
	}
	return nil
}

// ModelCatalog returns, per registered model, its canonical name, aliases,
// and a capability flag subset plus intelligence_score and
// context_window_tokens for clients ranking candidates client-side (spec §6
// "Model catalog interface"; SPEC_FULL "model catalog introspection").
func (s *Server) ModelCatalog() []registry.CatalogEntry {
	return s.registry.Catalog()
}
