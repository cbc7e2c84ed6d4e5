package ffmpeg

import (
	"fmt"
	"strconv"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
)

// ProbeFile runs ffprobe against the file at the given path and returns
// it's metadata.
func ProbeFile(config Config, path string) (transcoder.Metadata, error) {
	cfg := ffmpeg.Config{
		FfmpegBinPath:  config.FfmpegBinaryPath,
		FfprobeBinPath: config.FfprobeBinaryPath,
	}

	transcoder := ffmpeg.New(&cfg).Input(path)
	metadata, err := transcoder.GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %s", err.Error())
	}

	return metadata, nil
}

// ProbeDuration returns the container duration (in seconds) of the file at
// the given path. A zero duration with a nil error indicates the probe
// succeeded but the duration was not reported.
func ProbeDuration(config Config, path string) (float64, error) {
	metadata, err := ProbeFile(config, path)
	if err != nil {
		return 0, err
	}

	raw := metadata.GetFormat().GetDuration()
	if raw == "" {
		return 0, nil
	}

	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe reported a non-numeric duration '%s': %w", raw, err)
	}

	return duration, nil
}
