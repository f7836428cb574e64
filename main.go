package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/Chative-core-poc-v1/streaming/internal/core"
	"github.com/Chative-core-poc-v1/streaming/internal/repo"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/engine"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/source"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/transport"
	"github.com/Chative-core-poc-v1/streaming/internal/tools"
	logx "github.com/Chative-core-poc-v1/streaming/pkg/logger"
	pkgredis "github.com/Chative-core-poc-v1/streaming/pkg/redis"
)

// AppConfig defines all configurable parameters of the streaming demo,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// Streaming
	Stream  model.StreamConfig
	Summary model.SummaryConfig
}

type demoUser struct {
	userID int64
	chatID int64
	script []*schema.Message
}

func main() {
	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(envCfg.Environment)})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := engine.Config{
		Stream:    envCfg.Stream,
		Transport: transport.NewConsole(),
	}

	var summaries *repo.RedisSummaryRepository
	if envCfg.Redis.Enabled() {
		rdb, err := envCfg.Redis.New(ctx)
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
		}
		defer rdb.Close()

		ttl, err := envCfg.Summary.ParseTTL()
		if err != nil {
			logx.Fatal().Err(err).Msg("Invalid summary config")
		}
		summaries = repo.NewRedisSummaryRepository(rdb, ttl, envCfg.Summary.MaxEntries)
		cfg.Summaries = summaries
		logx.Info().Msg("Connected to Redis successfully")
	}

	eng, err := engine.New(cfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build stream engine")
	}
	defer eng.Shutdown()

	// Tools run through an eino ToolsNode; their callbacks feed the engine.
	cb := source.NewCallbacks(eng)
	runner, err := tools.NewRunner(ctx, tools.NewWorkspace(os.DirFS(".")).Tools(), cb.Handler())
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build tool runner")
	}

	users := []demoUser{
		{userID: 42, chatID: 100, script: toolScript()},
		{userID: 43, chatID: 200, script: answerScript()},
	}
	workspaceUser := demoUser{userID: 44, chatID: 300}

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range users {
		u := u
		g.Go(func() error {
			return runUser(gctx, eng, u, envCfg.Stream.PricingModel)
		})
	}
	g.Go(func() error {
		return runWorkspaceUser(gctx, eng, runner, cb, workspaceUser, envCfg.Stream.PricingModel)
	})
	if err := g.Wait(); err != nil {
		logx.Fatal().Err(err).Msg("Demo run failed")
	}

	if summaries != nil {
		for _, u := range append(users, workspaceUser) {
			recent, err := summaries.RecentSummaries(ctx, u.userID, 5)
			if err != nil {
				logx.Warn().Err(err).Int64("user_id", u.userID).Msg("Failed to load summaries")
				continue
			}
			logx.Info().Int64("user_id", u.userID).Int("count", len(recent)).Msg("Stored session summaries")
		}
	}

	logx.Info().Msg("All demo streams completed")
}

func runUser(ctx context.Context, eng *engine.Engine, u demoUser, pricingModel string) error {
	sessionID := uuid.NewString()
	if _, err := eng.StartStream(ctx, engine.StartRequest{UserID: u.userID, ChatID: u.chatID, SessionID: sessionID}); err != nil {
		return fmt.Errorf("start stream for user %d: %w", u.userID, err)
	}

	res, err := source.Pump(ctx, eng, u.userID, replay(ctx, u.script, 300*time.Millisecond), source.Options{Model: pricingModel})
	if err != nil {
		eng.HandleError(ctx, u.userID, err.Error())
		return fmt.Errorf("stream for user %d: %w", u.userID, err)
	}

	eng.FinalizeStream(ctx, u.userID, res.Cost, []string{"Explain more", "Start over"})
	return nil
}

// runWorkspaceUser executes real workspace tools between two streamed turns.
func runWorkspaceUser(ctx context.Context, eng *engine.Engine, runner *tools.Runner, cb *source.Callbacks, u demoUser, pricingModel string) error {
	if _, err := eng.StartStream(ctx, engine.StartRequest{UserID: u.userID, ChatID: u.chatID, SessionID: uuid.NewString()}); err != nil {
		return fmt.Errorf("start stream for user %d: %w", u.userID, err)
	}
	uctx := source.WithUser(ctx, u.userID)

	intro := []*schema.Message{{Role: schema.Assistant, Content: "Checking the module definition."}}
	first, err := source.Pump(uctx, eng, u.userID, replay(ctx, intro, 100*time.Millisecond), source.Options{Model: pricingModel})
	if err != nil {
		eng.HandleError(ctx, u.userID, err.Error())
		return fmt.Errorf("stream for user %d: %w", u.userID, err)
	}

	results, err := runner.Run(uctx, &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "call_ls", Type: "function", Function: schema.FunctionCall{Name: tools.ToolList, Arguments: `{}`}},
			{ID: "call_read", Type: "function", Function: schema.FunctionCall{Name: tools.ToolRead, Arguments: `{"file_path":"go.mod","max_bytes":200}`}},
		},
	})
	if err != nil {
		eng.HandleError(ctx, u.userID, err.Error())
		return fmt.Errorf("tools for user %d: %w", u.userID, err)
	}

	answer := []*schema.Message{{
		Role:    schema.Assistant,
		Content: fmt.Sprintf(" Both tools finished; %d results came back from the workspace.", len(results)),
	}}
	second, err := source.Pump(uctx, eng, u.userID, replay(ctx, answer, 100*time.Millisecond), source.Options{Model: pricingModel})
	if err != nil {
		eng.HandleError(ctx, u.userID, err.Error())
		return fmt.Errorf("stream for user %d: %w", u.userID, err)
	}

	cost := first.Cost + second.Cost + cb.Cost(u.userID, pricingModel)
	eng.FinalizeStream(ctx, u.userID, cost, nil)
	return nil
}

// replay emits the scripted chunks with a delay, like a model streaming its answer.
func replay(ctx context.Context, script []*schema.Message, delay time.Duration) *schema.StreamReader[*schema.Message] {
	sr, sw := schema.Pipe[*schema.Message](len(script))
	go func() {
		defer sw.Close()
		for _, msg := range script {
			select {
			case <-ctx.Done():
				sw.Send(nil, ctx.Err())
				return
			case <-time.After(delay):
			}
			if closed := sw.Send(msg, nil); closed {
				return
			}
		}
	}()
	return sr
}

func toolScript() []*schema.Message {
	return []*schema.Message{
		{Role: schema.Assistant, Content: "Let me look at the project layout first."},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			ID:       "call_1",
			Function: schema.FunctionCall{Name: "bash", Arguments: `{"command":"ls -la internal/stream"}`},
		}}},
		{Role: schema.Tool, ToolCallID: "call_1", Content: "engine model ratelimit render source transport"},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			ID:       "call_2",
			Function: schema.FunctionCall{Name: "read", Arguments: `{"file_path":"internal/stream/engine/engine.go"}`},
		}}},
		{Role: schema.Tool, ToolCallID: "call_2", Content: "permission denied", Extra: map[string]any{source.ExtraIsError: true}},
		{Role: schema.Assistant, Content: " The engine package owns every session; ", Extra: map[string]any{source.ExtraProgress: "Summarizing"}},
		{Role: schema.Assistant, Content: "its dispatcher applies one edit per tick."},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 1800, CompletionTokens: 240, TotalTokens: 2040}}},
	}
}

func answerScript() []*schema.Message {
	words := strings.Fields("Streaming delivery renders a response progressively: a header first, then content in fixed chunks, and a status line once the stream completes.")
	script := make([]*schema.Message, 0, len(words)+1)
	for _, w := range words {
		script = append(script, &schema.Message{Role: schema.Assistant, Content: w + " "})
	}
	return append(script, &schema.Message{
		Role:         schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 600, CompletionTokens: 90, TotalTokens: 690}},
	})
}
