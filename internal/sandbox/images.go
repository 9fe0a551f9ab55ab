package sandbox

import (
	"github.com/parley-app/parley/internal/workspace"
)

// GetDockerImage picks the container image for a project type. A custom
// image from config wins over the per-type defaults.
func GetDockerImage(projectType workspace.ProjectType, config Config) string {
	if config.DockerImage != "" {
		return config.DockerImage
	}

	switch projectType {
	case workspace.ProjectTypeGo:
		return "golang:alpine"
	case workspace.ProjectTypeNode:
		return "node:alpine"
	case workspace.ProjectTypePython:
		return "python:alpine"
	case workspace.ProjectTypeRust:
		return "rust:alpine"
	default:
		return "alpine:latest"
	}
}
