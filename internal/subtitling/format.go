// Package subtitling renders subtitle tracks from the transcript.
package subtitling

import (
	"fmt"
	"strings"
	"time"

	"lectern/internal/transcript"
)

// Supported subtitle formats.
const (
	FormatSRT = "srt"
	FormatVTT = "vtt"
)

// Render writes the transcript as a subtitle document in the requested
// format. Empty segments are dropped.
func Render(doc *transcript.Transcript, format string) (string, error) {
	switch format {
	case "", FormatSRT:
		return renderSRT(doc), nil
	case FormatVTT:
		return renderVTT(doc), nil
	default:
		return "", fmt.Errorf("unsupported subtitle format %q", format)
	}
}

// Extension returns the file extension for a format.
func Extension(format string) string {
	if format == FormatVTT {
		return "vtt"
	}
	return "srt"
}

func renderSRT(doc *transcript.Transcript) string {
	var out strings.Builder
	index := 1
	for _, segment := range doc.Segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&out, "%d\n%s --> %s\n%s\n\n",
			index, srtTimestamp(segment.Start), srtTimestamp(segment.End), text)
		index++
	}
	return out.String()
}

func renderVTT(doc *transcript.Transcript) string {
	var out strings.Builder
	out.WriteString("WEBVTT\n\n")
	for _, segment := range doc.Segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&out, "%s --> %s\n%s\n\n",
			vttTimestamp(segment.Start), vttTimestamp(segment.End), text)
	}
	return out.String()
}

func srtTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ",")
}

func vttTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ".")
}

func formatTimestamp(seconds float64, millisSep string) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	millis := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, secs, millisSep, millis)
}
