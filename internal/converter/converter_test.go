package converter

import (
	"context"
	"strings"
	"testing"

	"github.com/nathom/streamrip-sub000/internal/shared"
)

func TestConvertUnknownCodec(t *testing.T) {
	_, err := Convert(context.Background(), "x.flac", &shared.ConversionConfig{Codec: "WMA"})
	if err == nil || !strings.Contains(err.Error(), "unknown conversion codec") {
		t.Fatalf("expected unknown codec error, got %v", err)
	}
}

func TestBuildArgs(t *testing.T) {
	cfg := &shared.ConversionConfig{Codec: "FLAC", SamplingRate: 48000, BitDepth: 24}
	args := buildArgs("in.m4a", "out.flac", codecs["FLAC"], cfg)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-i in.m4a",
		"-c:a flac",
		"-ar 48000",
		"-sample_fmt s32",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "out.flac" {
		t.Errorf("output path should be last arg, got %q", args[len(args)-1])
	}
}

func TestBuildArgsLossyOmitsSampleFmt(t *testing.T) {
	cfg := &shared.ConversionConfig{Codec: "MP3", BitDepth: 16}
	args := buildArgs("in.flac", "out.mp3", codecs["MP3"], cfg)
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "-sample_fmt") {
		t.Errorf("lossy target should not force a sample format: %s", joined)
	}
	if !strings.Contains(joined, "-b:a 320k") {
		t.Errorf("expected 320k bitrate: %s", joined)
	}
}

func TestSampleFormat(t *testing.T) {
	if got := sampleFormat(".flac", 16); got != "s16" {
		t.Errorf("16-bit flac: got %q", got)
	}
	if got := sampleFormat(".flac", 24); got != "s32" {
		t.Errorf("24-bit flac: got %q", got)
	}
	if got := sampleFormat(".flac", 0); got != "" {
		t.Errorf("unset depth: got %q", got)
	}
	if got := sampleFormat(".ogg", 24); got != "" {
		t.Errorf("ogg: got %q", got)
	}
}
