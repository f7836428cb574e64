package tools

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// ===================================
// List Tool
// ===================================

type ListInput struct {
	Path string `json:"path,omitempty"`
}

type ListOutput struct {
	Path    string   `json:"path"`
	Entries []string `json:"entries"`
}

func (w *Workspace) createListTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolList,
			Desc: "List a workspace directory. Directories are suffixed with a slash.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"path": {
					Type: "string",
					Desc: "Directory relative to the workspace root (default: the root)",
				},
			}),
		},
		func(ctx context.Context, in *ListInput) (*ListOutput, error) {
			name := "."
			if strings.TrimSpace(in.Path) != "" {
				var err error
				if name, err = cleanPath(in.Path); err != nil {
					return nil, err
				}
			}

			entries, err := fs.ReadDir(w.FS, name)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", name, err)
			}
			out := &ListOutput{Path: name, Entries: make([]string, 0, len(entries))}
			for _, e := range entries {
				entry := e.Name()
				if e.IsDir() {
					entry += "/"
				}
				out.Entries = append(out.Entries, entry)
			}
			return out, nil
		},
	)
}
