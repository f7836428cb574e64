package tools

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const (
	ToolRead = "read"
	ToolList = "ls"
)

// DefaultMaxBytes caps how much of a file the read tool returns.
const DefaultMaxBytes = 16 * 1024

// Workspace exposes read-only file tools over a file system.
type Workspace struct {
	FS fs.FS
}

func NewWorkspace(fsys fs.FS) *Workspace {
	return &Workspace{FS: fsys}
}

// Tools returns every workspace tool.
func (w *Workspace) Tools() []tool.BaseTool {
	return []tool.BaseTool{
		w.createReadTool(),
		w.createListTool(),
	}
}

// GetToolInfos collects the schema of each tool.
func GetToolInfos(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
