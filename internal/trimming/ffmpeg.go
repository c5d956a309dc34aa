package trimming

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"lectern/internal/services"
)

// FFmpeg shells out to ffmpeg's silenceremove filter.
type FFmpeg struct {
	binary string
}

func NewFFmpeg(binary string) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary}
}

func (f *FFmpeg) Trim(ctx context.Context, inputPath, outputPath string, thresholdDB, minSilenceSeconds float64) error {
	filter := fmt.Sprintf(
		"silenceremove=start_periods=1:start_threshold=%.1fdB:stop_periods=-1:stop_threshold=%.1fdB:stop_duration=%.2f",
		thresholdDB, thresholdDB, minSilenceSeconds,
	)
	cmd := exec.CommandContext(ctx, f.binary,
		"-hide_banner", "-nostdin", "-y",
		"-i", inputPath,
		"-af", filter,
		"-c:v", "copy",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTimeout, "trim", "run ffmpeg",
				"silence removal timed out", ctx.Err())
		}
		detail := lastLine(stderr.String())
		return services.Wrap(services.ErrExternalTool, "trim", "run ffmpeg",
			fmt.Sprintf("ffmpeg failed: %s", detail), err)
	}
	return nil
}

func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return fmt.Errorf("ffmpeg binary %q not found in PATH", f.binary)
	}
	return nil
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return "no output"
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
