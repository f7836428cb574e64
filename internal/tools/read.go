package tools

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// ===================================
// Read Tool
// ===================================

type ReadInput struct {
	FilePath string `json:"file_path"`
	MaxBytes int    `json:"max_bytes,omitempty"`
}

type ReadOutput struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

func (w *Workspace) createReadTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolRead,
			Desc: "Read a text file from the workspace. Returns the file content, truncated to max_bytes.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"file_path": {
					Type:     "string",
					Desc:     "Slash separated path relative to the workspace root, e.g. internal/stream/engine/engine.go",
					Required: true,
				},
				"max_bytes": {
					Type: "number",
					Desc: "Maximum number of bytes to return (default: 16384)",
				},
			}),
		},
		func(ctx context.Context, in *ReadInput) (*ReadOutput, error) {
			name, err := cleanPath(in.FilePath)
			if err != nil {
				return nil, err
			}
			if in.MaxBytes <= 0 {
				in.MaxBytes = DefaultMaxBytes
			}

			f, err := w.FS.Open(name)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", name, err)
			}
			defer f.Close()

			buf, err := io.ReadAll(io.LimitReader(f, int64(in.MaxBytes)+1))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			out := &ReadOutput{Path: name}
			if len(buf) > in.MaxBytes {
				buf = buf[:in.MaxBytes]
				out.Truncated = true
			}
			out.Content = string(buf)
			return out, nil
		},
	)
}

// cleanPath turns a user supplied path into an fs.FS name.
func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("file_path is required")
	}
	name := path.Clean(strings.TrimPrefix(p, "/"))
	if !fs.ValidPath(name) {
		return "", fmt.Errorf("invalid path: %s", p)
	}
	return name, nil
}
