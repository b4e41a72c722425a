// Command kaigi is the operational entry point for the workflow
// orchestrator: it runs demo workflows against scripted agents and
// exposes the audit trail (stats, query, retention cleanup) from the
// command line. Production deployments embed the kaigi package directly
// and register real LLM-backed agents.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashita-ai/kaigi"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KAIGI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	var (
		mode    = flag.String("mode", "demo", "operation: demo | stats | invocations | cleanup")
		subject = flag.String("subject", "DEMO", "subject ID for -mode demo")
		backend = flag.String("backend", "", "force an engine for -mode demo: durable | graph | hybrid")
		agent   = flag.String("agent", "", "agent type filter for -mode invocations")
		days    = flag.Int("days", 30, "retention window for -mode cleanup")
		limit   = flag.Int("limit", 50, "row limit for -mode invocations")
	)
	flag.Parse()

	opts := []kaigi.Option{
		kaigi.WithLogger(logger),
		kaigi.WithVersion(version),
	}
	if *mode == "demo" {
		opts = append(opts, demoAgents()...)
	}

	app, err := kaigi.New(opts...)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() { _ = app.Shutdown(context.Background()) }()
	app.Start(ctx)

	switch *mode {
	case "demo":
		return runDemo(ctx, app, *subject, kaigi.Backend(*backend))
	case "stats":
		return printStats(ctx, app)
	case "invocations":
		return printInvocations(ctx, app, *agent, *limit)
	case "cleanup":
		retired, err := app.CleanupOlderThan(ctx, *days)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		logger.Info("cleanup complete", "retired", retired, "days", *days)
		return nil
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
}

func runDemo(ctx context.Context, app *kaigi.App, subject string, on kaigi.Backend) error {
	spec := kaigi.WorkflowSpec{
		StageAgents: map[kaigi.Stage][]string{
			kaigi.StageAnalysis:        {"market", "news"},
			kaigi.StageResearchDebate:  {"bull", "bear", "judge"},
			kaigi.StageTradingDecision: {"trader"},
			kaigi.StageRiskAssessment:  {"risk"},
			kaigi.StageFinalDecision:   {"manager"},
			kaigi.StageReflection:      {"reflector"},
		},
		MaxDebateRounds: 2,
	}

	var (
		res kaigi.Result
		err error
	)
	if on != "" {
		res, err = app.ExecuteOn(ctx, subject, spec, on)
	} else {
		res, err = app.Execute(ctx, subject, spec)
	}
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return printJSON(res)
}

func printStats(ctx context.Context, app *kaigi.App) error {
	stats, err := app.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return printJSON(stats)
}

func printInvocations(ctx context.Context, app *kaigi.App, agentType string, limit int) error {
	recs, err := app.Invocations(ctx, kaigi.InvocationFilter{AgentType: agentType, Limit: limit})
	if err != nil {
		return fmt.Errorf("invocations: %w", err)
	}
	return printJSON(recs)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// demoAgents registers scripted stand-ins so the pipeline can run end to
// end without an LLM transport.
func demoAgents() []kaigi.Option {
	script := func(analysis, recommendation string, score float64) kaigi.AgentFunc {
		return func(ctx context.Context, in kaigi.Input) (kaigi.Verdict, error) {
			s := score
			text := analysis
			if in.SubjectID != "" {
				text = strings.ReplaceAll(analysis, "{subject}", in.SubjectID)
			}
			return kaigi.Verdict{
				Analysis:       text,
				Score:          &s,
				Recommendation: recommendation,
			}, nil
		}
	}

	return []kaigi.Option{
		kaigi.WithAgent("market", "Market Analyst", script("Market structure for {subject} looks constructive.", "buy", 0.74)),
		kaigi.WithAgent("news", "News Analyst", script("Coverage of {subject} skews positive.", "buy", 0.66)),
		kaigi.WithAgent("bull", "Bull Researcher", script("The upside case for {subject} rests on momentum and flows.", "", 0.8)),
		kaigi.WithAgent("bear", "Bear Researcher", script("The downside case for {subject} rests on valuation.", "", 0.35)),
		kaigi.WithAgent("judge", "Research Judge", script("The bull case is better evidenced for {subject}.", "buy", 0.7)),
		kaigi.WithAgent("trader", "Trader", script("Enter a small position in {subject}.", "buy", 0.72)),
		kaigi.WithAgent("risk", "Risk Desk", script("Exposure to {subject} is within limits.", "hold", 0.5)),
		kaigi.WithAgent("manager", "Portfolio Manager", script("Approve the {subject} trade at reduced size.", "buy", 0.68)),
		kaigi.WithAgent("reflector", "Reflection", script("The {subject} run showed broad agreement.", "", 0.6)),
	}
}
