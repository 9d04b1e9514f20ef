package miner

import (
	"context"
	"os/exec"

	"github.com/helixir/doab-reference-service/internal/config"
)

// missingRunner reports every external command as absent.
type missingRunner struct{}

func (missingRunner) LookPath(file string) (string, error) {
	return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
}

func (missingRunner) Output(context.Context, string, ...string) ([]byte, error) {
	return nil, exec.ErrNotFound
}

func parserConfigMissing() config.ParsersConfig {
	return config.ParsersConfig{CermineCommand: "cermine", AnystyleCommand: "anystyle"}
}

func crossrefConfig() config.CrossrefConfig {
	return config.CrossrefConfig{BaseURL: "https://api.crossref.test"}
}
