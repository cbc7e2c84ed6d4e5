package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/telegrab/telegrab/pkg/logger"
)

var log = logger.Get("Ffmpeg")

type Config struct {
	FfmpegBinaryPath  string `toml:"ffmpeg_binary_path" env:"FFMPEG_BINARY_PATH" env-default:"/usr/bin/ffmpeg"`
	FfprobeBinaryPath string `toml:"ffprobe_binary_path" env:"FFPROBE_BINARY_PATH" env-default:"/usr/bin/ffprobe"`
}

type ProgressCallback func(transcoder.Progress)

// Cmd wraps a single FFmpeg execution on the host machine. Each progress
// update detected from the underlying command is delivered to the callback.
type Cmd interface {
	Run(ctx context.Context, options *ffmpeg.Options, onProgress ProgressCallback) error
}

type cmd struct {
	config     Config
	inputPath  string
	outputPath string
}

func NewCmd(config Config, inputPath string, outputPath string) Cmd {
	return &cmd{
		config:     config,
		inputPath:  inputPath,
		outputPath: outputPath,
	}
}

func (cmd *cmd) Run(ctx context.Context, options *ffmpeg.Options, onProgress ProgressCallback) error {
	ffmpegCfg := &ffmpeg.Config{
		ProgressEnabled: true,
		FfmpegBinPath:   cmd.config.FfmpegBinaryPath,
		FfprobeBinPath:  cmd.config.FfprobeBinaryPath,
	}

	cmdContext, cancel := context.WithCancel(ctx)
	defer cancel()

	os.MkdirAll(filepath.Dir(cmd.outputPath), os.ModePerm)

	transcoderInstance := ffmpeg.
		New(ffmpegCfg).
		Input(cmd.inputPath).
		Output(cmd.outputPath).
		WithContext(&cmdContext)

	progressChannel, err := transcoderInstance.Start(options)
	if err != nil {
		return parseFfmpegError(err)
	}

	// Drain the progress channel and forward updates to the caller. The
	// channel closes once the underlying command exits.
	for {
		prog, ok := <-progressChannel
		if !ok {
			return nil
		}

		if onProgress != nil {
			onProgress(prog)
		}
	}
}

// parseFfmpegError tries to pick the relevant information out of the HUGE
// output log from ffmpeg. The error we get contains lots of information
// about how the binary was compiled - useless info, we just want the
// 'message' JSON that is encoded inside.
func parseFfmpegError(err error) error {
	messageMatcher := regexp.MustCompile(`(?s)message: ({.*})`)
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return err
	}

	var out map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil {
		// We failed to extract the info.. just use the entire string as our error
		return errors.New(groups[1])
	}

	if exception, ok := out["error"].(map[string]interface{}); ok {
		if str, ok := exception["string"].(string); ok {
			return errors.New(str)
		}
	}

	return errors.New(groups[1])
}
