// Command narrativeengine is the composition root: it wires persistence,
// the provider registry, the cost ledger, and the orchestrator together,
// then exposes the orchestrator operations over a trivial line-oriented
// stdin/stdout protocol. It is a smoke-test harness, not the HTTP façade.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/antigravity-dev/narrativeengine/internal/config"
	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/embedding"
	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/orchestrator"
	"github.com/antigravity-dev/narrativeengine/internal/pipeline"
	"github.com/antigravity-dev/narrativeengine/internal/plotarc"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/rewritehistory"
	"github.com/antigravity-dev/narrativeengine/internal/steps"
	"github.com/antigravity-dev/narrativeengine/internal/store"
	"github.com/antigravity-dev/narrativeengine/internal/storycontext"
)

// configureLogger builds the structured logger: JSON by default, text in
// dev mode, mirroring the teacher's cmd/cortex wiring.
func configureLogger(dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func loadConfig(path string) (config.EngineConfig, error) {
	var cfg config.EngineConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return config.EngineConfig{}, fmt.Errorf("load config %q: %w", path, err)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "narrativeengine.db"
	}
	if cfg.CostLedgerPath == "" {
		cfg.CostLedgerPath = "cost_ledger.json"
	}
	if cfg.RewriteHistoryDir == "" {
		cfg.RewriteHistoryDir = "rewrite_history"
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "openai"
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "narrativeengine.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	logger := configureLogger(*dev)
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "database_path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	registry := provider.NewRegistry()
	creds := cfg.Providers[cfg.DefaultProvider]
	client, err := registry.Build(cfg.DefaultProvider, provider.Credentials{
		APIKey: creds.APIKey, BaseURL: creds.BaseURL, Model: creds.Model,
	}, cfg.Timeout().Seconds())
	if err != nil {
		logger.Error("failed to build provider client", "provider", cfg.DefaultProvider, "error", err)
		os.Exit(1)
	}

	ledger, err := costledger.Open(cfg.CostLedgerPath, cfg.DailyBudgetUSD, nil)
	if err != nil {
		logger.Error("failed to open cost ledger", "path", cfg.CostLedgerPath, "error", err)
		os.Exit(1)
	}

	history, err := rewritehistory.Open(cfg.RewriteHistoryDir)
	if err != nil {
		logger.Error("failed to open rewrite history journal", "dir", cfg.RewriteHistoryDir, "error", err)
		os.Exit(1)
	}

	embEngine := embedding.NewEngine(embedding.Config{
		APIKey: cfg.Embedding.APIKey, BaseURL: cfg.Embedding.BaseURL, Model: cfg.Embedding.Model,
	})
	retriever := plotarc.New(st, embEngine)
	summarizer := storycontext.NewProviderSummarizer(client)

	orch := orchestrator.New(st, client, ledger, history, retriever, summarizer, logger)

	logger.Info("narrativeengine ready", "database_path", cfg.DatabasePath, "provider", cfg.DefaultProvider)
	runLoop(context.Background(), orch, logger)
}

// request is one line of the stdin protocol: an operation name plus
// whatever params that operation needs, all optional so a single struct
// can decode every op.
type request struct {
	Op           string `json:"op"`
	ProjectID    int64  `json:"project_id"`
	ChapterID    int64  `json:"chapter_id"`
	Idea         string `json:"idea"`
	Text         string `json:"text"`
	Regenerate   bool   `json:"regenerate"`
	StyleGuide   string `json:"style_guide"`
	AuthorNote   string `json:"author_note"`
	OverrideText string `json:"override_text"`
	Strict       bool   `json:"strict"`

	Instruction  string `json:"instruction"`
	Scope        string `json:"scope"`
	RangeStart   int    `json:"range_start"`
	RangeEnd     int    `json:"range_end"`
	PreservePlot bool   `json:"preserve_plot"`
	Mode         string `json:"mode"`
	Save         bool   `json:"save"`
	HistoryID    string `json:"history_id"`

	FromStep     int    `json:"from_step"`
	ToStep       int    `json:"to_step"`
	ChapterRange string `json:"chapter_range"`
	MaxWorkers   int    `json:"max_workers"`

	Force bool `json:"force"`
}

type response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// runLoop reads one JSON request per line from stdin and writes one JSON
// response per line to stdout, until EOF.
func runLoop(ctx context.Context, orch *orchestrator.Orchestrator, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeResponse(encoder, logger, response{Error: fmt.Sprintf("invalid request line: %v", err)})
			continue
		}

		result, err := dispatch(ctx, orch, req)
		if err != nil {
			resp := response{Error: err.Error()}
			if kind, ok := engerr.KindOf(err); ok {
				resp.Kind = kind.String()
			}
			logger.Warn("operation failed", "op", req.Op, "error", err)
			writeResponse(encoder, logger, resp)
			continue
		}
		writeResponse(encoder, logger, response{OK: true, Result: result})
	}
}

func writeResponse(encoder *json.Encoder, logger *slog.Logger, resp response) {
	if err := encoder.Encode(resp); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}

func dispatch(ctx context.Context, orch *orchestrator.Orchestrator, req request) (any, error) {
	switch req.Op {
	case "status":
		return orch.Status(req.ProjectID)
	case "plan":
		return orch.Plan(ctx, req.ProjectID, req.Idea)
	case "update_plan":
		return nil, orch.UpdatePlan(req.ProjectID, req.Text)
	case "build_world":
		return orch.BuildWorld(ctx, req.ProjectID)
	case "update_world":
		return nil, orch.UpdateWorld(req.ProjectID, req.Text)
	case "build_outline":
		return orch.BuildOutline(ctx, req.ProjectID)
	case "index_plot_arcs":
		return orch.IndexPlotArcs(ctx, req.ProjectID, req.Force)
	case "detail_outline":
		return orch.DetailOutline(ctx, req.ChapterID, req.Regenerate)
	case "batch_detail_outline":
		return orch.BatchDetailOutline(ctx, req.ProjectID, req.Regenerate)
	case "write":
		return orch.Write(ctx, req.ChapterID, steps.WriteParams{StyleGuide: req.StyleGuide, AuthorNote: req.AuthorNote}, req.Regenerate)
	case "quality_check":
		return orch.QualityCheck(ctx, req.ChapterID)
	case "batch_quality_check":
		return orch.BatchQualityCheck(ctx, req.ProjectID)
	case "check_consistency":
		return orch.CheckConsistency(ctx, req.ChapterID, req.OverrideText, req.Strict)
	case "rewrite":
		return orch.Rewrite(ctx, req.ChapterID, steps.RewriteParams{
			Instruction: req.Instruction, Scope: model.RewriteScope(req.Scope),
			RangeStart: req.RangeStart, RangeEnd: req.RangeEnd,
			PreservePlot: req.PreservePlot, Mode: req.Mode, Save: req.Save,
		})
	case "rollback":
		return orch.Rollback(req.ChapterID, req.HistoryID, req.Save)
	case "run_pipeline":
		return orch.RunPipeline(ctx, pipeline.Request{
			ProjectID: req.ProjectID, FromStep: req.FromStep, ToStep: req.ToStep,
			ChapterRange: req.ChapterRange, Regenerate: req.Regenerate, MaxWorkers: req.MaxWorkers,
		})
	case "pipeline_status":
		return orch.PipelineStatus(req.ProjectID)
	case "mark_complete":
		return nil, orch.MarkComplete(req.ProjectID)
	default:
		return nil, engerr.InvalidFormat(fmt.Sprintf("unknown op %q", req.Op))
	}
}
