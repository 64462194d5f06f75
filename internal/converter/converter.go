// package converter transcodes finished downloads with ffmpeg.
package converter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nathom/streamrip-sub000/internal/shared"
)

type codecSpec struct {
	ext  string
	args []string
}

var codecs = map[string]codecSpec{
	"FLAC": {ext: ".flac", args: []string{"-c:a", "flac"}},
	"ALAC": {ext: ".m4a", args: []string{"-c:a", "alac"}},
	"MP3":  {ext: ".mp3", args: []string{"-c:a", "libmp3lame", "-b:a", "320k"}},
	"AAC":  {ext: ".m4a", args: []string{"-c:a", "aac", "-b:a", "256k"}},
	"OGG":  {ext: ".ogg", args: []string{"-c:a", "libvorbis", "-q:a", "10"}},
	"OPUS": {ext: ".opus", args: []string{"-c:a", "libopus", "-b:a", "128k"}},
}

// Convert transcodes the file at path per the conversion settings and
// returns the output path. The source file is removed on success unless
// it already had the target extension, in which case it is replaced in
// place.
func Convert(ctx context.Context, path string, cfg *shared.ConversionConfig) (string, error) {
	spec, ok := codecs[strings.ToUpper(cfg.Codec)]
	if !ok {
		return "", fmt.Errorf("unknown conversion codec %q", cfg.Codec)
	}

	out := strings.TrimSuffix(path, filepath.Ext(path)) + spec.ext
	tmp := out + ".tmp" + spec.ext
	cmd := exec.CommandContext(ctx, "ffmpeg", buildArgs(path, tmp, spec, cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}

	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if out != path {
		os.Remove(path)
	}
	return out, nil
}

func buildArgs(src, dst string, spec codecSpec, cfg *shared.ConversionConfig) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src}
	args = append(args, spec.args...)
	if cfg.SamplingRate > 0 {
		args = append(args, "-ar", strconv.Itoa(cfg.SamplingRate))
	}
	if fmtArg := sampleFormat(spec.ext, cfg.BitDepth); fmtArg != "" {
		args = append(args, "-sample_fmt", fmtArg)
	}
	return append(args, dst)
}

// sampleFormat maps a target bit depth onto an ffmpeg sample format.
// Only the flac encoder takes one; the rest pick their own.
func sampleFormat(ext string, bitDepth int) string {
	if ext != ".flac" {
		return ""
	}
	switch bitDepth {
	case 16:
		return "s16"
	case 24, 32:
		// flac carries 24-bit samples in 32-bit fields
		return "s32"
	}
	return ""
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
