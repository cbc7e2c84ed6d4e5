package spool

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

type SpoolItemState int

const (
	// HOLD items have been recently modified and are assumed to still be
	// mid-write. They become IDLE once their modtime is old enough.
	HOLD SpoolItemState = iota
	IDLE
	PROCESSING
	COMPLETE
	TROUBLED
)

type (
	// SpoolItemTrouble is an error raised while processing a request file.
	SpoolItemTrouble struct {
		error
	}

	// SpoolItem is a request file found in the spool directory. Each file
	// holds one download request per line.
	SpoolItem struct {
		ID    uuid.UUID
		Path  string
		State SpoolItemState

		Trouble *SpoolItemTrouble
	}
)

// modtimeDiff returns the duration since the items source file was last
// modified, erroring if the file has gone away.
func (item *SpoolItem) modtimeDiff() (*time.Duration, error) {
	info, err := os.Stat(item.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat spool file '%s': %w", item.Path, err)
	}

	diff := time.Since(info.ModTime())
	return &diff, nil
}

func (item *SpoolItem) String() string {
	return fmt.Sprintf("SpoolItem{ID=%s path=%s state=%d}", item.ID, item.Path, item.State)
}
