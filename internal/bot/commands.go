package bot

import (
	"errors"
	"strconv"
	"strings"

	"github.com/telegrab/telegrab/internal/ytdlp"
)

var errNoURL = errors.New("no URL provided")

type (
	// getArgs is the parsed form of a '/get <url> [video|audio] [height]'
	// command.
	getArgs struct {
		URL    string
		Mode   ytdlp.Mode
		Height int
	}

	// getAllArgs is the parsed form of a
	// '/getall <url> [video|audio] [height] [limit=ALL|N]' command. A limit
	// of zero means 'use the default'; negative means 'all entries'.
	getAllArgs struct {
		getArgs
		Limit int
	}
)

// parseGetArgs interprets the whitespace-separated arguments of a /get
// command. The mode and height tokens are optional and may appear in either
// slot; unrecognised tokens are ignored.
func parseGetArgs(tokens []string, defaultHeight int) (getArgs, error) {
	if len(tokens) < 1 || tokens[0] == "" {
		return getArgs{}, errNoURL
	}

	args := getArgs{
		URL:    strings.TrimSpace(tokens[0]),
		Mode:   ytdlp.VIDEO,
		Height: defaultHeight,
	}

	for _, token := range tokens[1:] {
		token = strings.ToLower(token)
		if mode, ok := ytdlp.ParseMode(token); ok {
			args.Mode = mode
		} else if height, err := strconv.Atoi(token); err == nil && height > 0 {
			args.Height = height
		}
	}

	return args, nil
}

// parseGetAllArgs interprets the arguments of a /getall command. It accepts
// everything parseGetArgs does, plus a 'limit=ALL' or 'limit=N' token.
func parseGetAllArgs(tokens []string, defaultHeight int) (getAllArgs, error) {
	if len(tokens) < 1 || tokens[0] == "" {
		return getAllArgs{}, errNoURL
	}

	args := getAllArgs{
		getArgs: getArgs{
			URL:    strings.TrimSpace(tokens[0]),
			Mode:   ytdlp.VIDEO,
			Height: defaultHeight,
		},
	}

	for _, token := range tokens[1:] {
		token = strings.ToLower(token)
		if mode, ok := ytdlp.ParseMode(token); ok {
			args.Mode = mode
		} else if height, err := strconv.Atoi(token); err == nil && height > 0 {
			args.Height = height
		} else if value, found := strings.CutPrefix(token, "limit="); found {
			if value == "all" {
				args.Limit = -1
			} else if limit, err := strconv.Atoi(value); err == nil && limit > 0 {
				args.Limit = limit
			}
		}
	}

	return args, nil
}
