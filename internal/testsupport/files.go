package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// mp4Magic is the start of a minimal MP4 box header, enough for fixtures
// that only need to look like a container file without being playable.
var mp4Magic = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2'}

// WriteMediaFile creates a fake recording of the requested size at path.
// The payload starts with an MP4 box header and is padded to size with a
// repeating filler so byte-level copy verification has real content to
// hash. Sizes smaller than the header are rounded up to it.
func WriteMediaFile(t testing.TB, path string, size int64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	payload := bytes.NewBuffer(nil)
	payload.Write(mp4Magic)
	if pad := size - int64(payload.Len()); pad > 0 {
		filler := bytes.Repeat([]byte("lectern-fixture "), int(pad/16)+1)
		payload.Write(filler[:pad])
	}
	if err := os.WriteFile(path, payload.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
