package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/telegrab/telegrab/pkg/logger"
)

const (
	// audioBitrateKbps is the fixed AAC bitrate used by shrink transcodes.
	audioBitrateKbps = 96

	// minVideoBitrate is the floor applied to the computed video bitrate;
	// going below this produces unwatchable output regardless of target size.
	minVideoBitrate = 300_000

	// fallbackCrf is used when the source duration cannot be determined and
	// bitrate targeting is therefore impossible.
	fallbackCrf uint32 = 28

	shrinkPreset = "veryfast"
)

// ShrinkVideoBitrate computes the video bitrate (bits/second) which should
// see the output of a transcode land at-or-below targetMB for a source of
// the given duration, after reserving room for the audio track.
func ShrinkVideoBitrate(durationSeconds float64, targetMB int) int {
	targetBits := float64(targetMB) * 8 * 1024 * 1024
	bitrate := int(targetBits/durationSeconds) - audioBitrateKbps*1000
	if bitrate < minVideoBitrate {
		return minVideoBitrate
	}

	return bitrate
}

// ShrinkOptions composes the FFmpeg options for a size-targeted H.264/AAC
// transcode, scaled down to the given height. A non-positive duration
// switches to a constant-quality single pass as bitrate targeting needs to
// know the runtime of the source.
func ShrinkOptions(durationSeconds float64, targetMB int, height int) *ffmpeg.Options {
	videoCodec := "libx264"
	audioCodec := "aac"
	audioBitrate := fmt.Sprintf("%dk", audioBitrateKbps)
	preset := shrinkPreset
	videoFilter := fmt.Sprintf("scale=-2:%d", height)
	movFlags := "+faststart"
	overwrite := true

	opts := &ffmpeg.Options{
		VideoCodec:   &videoCodec,
		AudioCodec:   &audioCodec,
		AudioBitrate: &audioBitrate,
		Preset:       &preset,
		VideoFilter:  &videoFilter,
		MovFlags:     &movFlags,
		Overwrite:    &overwrite,
	}

	if durationSeconds <= 0 {
		crf := fallbackCrf
		opts.Crf = &crf
		return opts
	}

	videoBitrate := ShrinkVideoBitrate(durationSeconds, targetMB)
	bitrate := strconv.Itoa(videoBitrate)
	maxRate := videoBitrate * 12 / 10
	bufferSize := videoBitrate * 2

	opts.VideoBitRate = &bitrate
	opts.VideoMaxBitRate = &maxRate
	opts.BufferSize = &bufferSize

	return opts
}

// Shrinker performs size-targeted transcodes of downloaded videos so they
// fit under the Telegram upload limit.
type Shrinker struct {
	config Config
}

func NewShrinker(config Config) *Shrinker {
	return &Shrinker{config: config}
}

// Shrink transcodes inputPath to outputPath aiming for targetMB. The probe
// of the source is best-effort; when it fails the constant-quality fallback
// is used rather than aborting the shrink.
func (shrinker *Shrinker) Shrink(ctx context.Context, inputPath string, outputPath string, targetMB int, height int, onProgress ProgressCallback) error {
	duration, err := ProbeDuration(shrinker.config, inputPath)
	if err != nil {
		log.Emit(logger.WARNING, "Probe of %s failed (%s), falling back to constant-quality shrink\n", inputPath, err.Error())
		duration = 0
	}

	options := ShrinkOptions(duration, targetMB, height)
	if err := NewCmd(shrinker.config, inputPath, outputPath).Run(ctx, options, onProgress); err != nil {
		return fmt.Errorf("shrink transcode failed: %w", err)
	}

	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("shrink transcode produced no output: %w", err)
	}

	return nil
}
