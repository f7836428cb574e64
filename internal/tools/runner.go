package tools

import (
	"context"
	"fmt"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	logx "github.com/Chative-core-poc-v1/streaming/pkg/logger"
)

// Runner executes the tool calls of an assistant message through an eino
// ToolsNode. Tool lifecycle callbacks go to the configured handler.
type Runner struct {
	runnable  compose.Runnable[*schema.Message, []*schema.Message]
	callbacks einocb.Handler
}

// NewRunner compiles a tools chain. Tool names must be unique. cb may be nil.
func NewRunner(ctx context.Context, tools []tool.BaseTool, cb einocb.Handler) (*Runner, error) {
	infos, err := GetToolInfos(ctx, tools)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		if seen[info.Name] {
			return nil, fmt.Errorf("duplicate tool %q", info.Name)
		}
		seen[info.Name] = true
		names = append(names, info.Name)
	}

	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               tools,
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning fallback result")
			return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"note\":\"ignored\"}", name), nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create tools node: %w", err)
	}

	runnable, err := compose.NewChain[*schema.Message, []*schema.Message]().
		AppendToolsNode(toolsNode).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile tools chain: %w", err)
	}
	logx.Debug().Strs("tools", names).Msg("Tool runner ready")
	return &Runner{runnable: runnable, callbacks: cb}, nil
}

// Run executes every tool call of msg and returns one tool message per call.
func (r *Runner) Run(ctx context.Context, msg *schema.Message) ([]*schema.Message, error) {
	var opts []compose.Option
	if r.callbacks != nil {
		opts = append(opts, compose.WithCallbacks(r.callbacks))
	}
	out, err := r.runnable.Invoke(ctx, msg, opts...)
	if err != nil {
		return nil, fmt.Errorf("run tools: %w", err)
	}
	return out, nil
}
