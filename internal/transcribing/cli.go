package transcribing

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"lectern/internal/services"
	"lectern/internal/transcript"
)

// CLI shells out to a whisper-style recognizer that writes a JSON
// transcript next to its input file.
type CLI struct {
	binary string
}

func NewCLI(binary string) *CLI {
	if strings.TrimSpace(binary) == "" {
		binary = "whisper-cli"
	}
	return &CLI{binary: binary}
}

func (c *CLI) Transcribe(ctx context.Context, mediaPath, language string) (*transcript.Transcript, error) {
	outputPath := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath)) + ".json"
	args := []string{
		"--output-format", "json",
		"--output", outputPath,
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	args = append(args, mediaPath)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputPath)
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "transcribe", "run recognizer",
				"speech recognition timed out", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "run recognizer",
			fmt.Sprintf("recognizer failed: %s", lastLine(detail)), err)
	}
	defer os.Remove(outputPath)

	result, err := transcript.LoadFile(outputPath)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "parse output",
			"recognizer produced an unreadable transcript", err)
	}
	if result.Language == "" {
		result.Language = language
	}
	return result, nil
}

func (c *CLI) Available() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("transcriber binary %q not found in PATH", c.binary)
	}
	return nil
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
