package executor

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"
)

func frame(streamType byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = streamType
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemuxStreamsSplitsStdoutAndStderr(t *testing.T) {
	var src bytes.Buffer
	src.Write(frame(1, "collected 12 items\n"))
	src.Write(frame(2, "warning: slow test\n"))
	src.Write(frame(1, "12 passed\n"))

	var stdout, stderr bytes.Buffer
	if err := demuxStreams(&stdout, &stderr, &src); err != nil {
		t.Fatalf("demux: %v", err)
	}
	if got := stdout.String(); got != "collected 12 items\n12 passed\n" {
		t.Fatalf("stdout = %q", got)
	}
	if got := stderr.String(); got != "warning: slow test\n" {
		t.Fatalf("stderr = %q", got)
	}
}

func TestDemuxStreamsSkipsEmptyFrames(t *testing.T) {
	var src bytes.Buffer
	src.Write(frame(1, ""))
	src.Write(frame(1, "ok"))

	var stdout, stderr bytes.Buffer
	if err := demuxStreams(&stdout, &stderr, &src); err != nil {
		t.Fatalf("demux: %v", err)
	}
	if stdout.String() != "ok" {
		t.Fatalf("stdout = %q, want %q", stdout.String(), "ok")
	}
}

func TestDemuxStreamsDefaultsUnknownTypeToStdout(t *testing.T) {
	var src bytes.Buffer
	src.Write(frame(0, "raw tty output"))

	var stdout, stderr bytes.Buffer
	if err := demuxStreams(&stdout, &stderr, &src); err != nil {
		t.Fatalf("demux: %v", err)
	}
	if stdout.String() != "raw tty output" {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if stderr.Len() != 0 {
		t.Fatalf("stderr should be empty, got %q", stderr.String())
	}
}

func TestContainerDirMapsWorkspacePaths(t *testing.T) {
	workspace := filepath.Join("/tmp", "gantry", "run-1", "workspace")
	d := &Docker{workspace: workspace}

	cases := []struct {
		hostDir string
		want    string
	}{
		{workspace, WorkspaceTarget},
		{filepath.Join(workspace, "onstove", "tests"), WorkspaceTarget + "/onstove/tests"},
		{"", WorkspaceTarget},
		{"/somewhere/else", WorkspaceTarget},
	}
	for _, tc := range cases {
		if got := d.containerDir(tc.hostDir); got != tc.want {
			t.Fatalf("containerDir(%q) = %q, want %q", tc.hostDir, got, tc.want)
		}
	}
}

func TestDockerValidateRejectsStdin(t *testing.T) {
	d := &Docker{image: "ubuntu:24.04"}
	err := d.Validate(Command{Binary: "cat", Stdin: "input"})
	if err == nil {
		t.Fatal("expected stdin to be rejected")
	}
}

func TestLimitedWriterCountsDiscardedBytes(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 4}

	if _, err := lw.Write([]byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := lw.Write([]byte("gh")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "abcd" {
		t.Fatalf("kept = %q, want %q", buf.String(), "abcd")
	}
	if !lw.truncated {
		t.Fatal("expected truncation flag")
	}
	if lw.discarded != 4 {
		t.Fatalf("discarded = %d, want 4", lw.discarded)
	}
}
