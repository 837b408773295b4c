package tools

import (
	"time"

	"github.com/atelier-dev/atelier/internal/fs"
	"github.com/atelier-dev/atelier/internal/session"
)

// NewDefaultRegistry builds the full tool catalog for one conversation. The
// registration order here is the order the model sees.
func NewDefaultRegistry(filesystem fs.FileSystem, sess *session.Session, workspaceDir string, commandTimeout time.Duration, services LanguageServices) *Registry {
	registry := NewRegistry()
	registry.Register(NewReadFileTool(filesystem, sess))
	registry.Register(NewWriteFileTool(filesystem, sess))
	registry.Register(NewEditFileTool(filesystem, sess))
	registry.Register(NewDeleteFileTool(filesystem, sess))
	registry.Register(NewListDirTool(filesystem))
	registry.Register(NewSearchTextTool(filesystem))
	registry.Register(NewRunCommandTool(workspaceDir, commandTimeout))
	registry.Register(NewDiagnosticsTool(services))
	registry.Register(NewOutlineTool(services))
	return registry
}
