package room

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is a room's playback state. SUSPEND is quorum-gated: the room stays
// suspended while any client holds a suspend vote.
type Status string

const (
	StatusPlay    Status = "PLAY"
	StatusPause   Status = "PAUSE"
	StatusSuspend Status = "SUSPEND"
)

// Wire commands. Clients send PLAY/PAUSE/SUSPEND/UNSUSPEND with a float
// timestamp and CHANGE_FILE with an integer display index. The server reuses
// the same verbs for status broadcasts, UNSUSPEND as the resume notice, and
// PEOPLE_COUNT for participant-count notices.
const (
	cmdPlay        = "PLAY"
	cmdPause       = "PAUSE"
	cmdSuspend     = "SUSPEND"
	cmdUnsuspend   = "UNSUSPEND"
	cmdChangeFile  = "CHANGE_FILE"
	cmdPeopleCount = "PEOPLE_COUNT"
)

// ErrMalformedCommand is returned for frames that do not parse as
// "<COMMAND> <argument>" with a well-typed argument.
var ErrMalformedCommand = fmt.Errorf("malformed command")

func parseFrame(data string) (cmd, arg string, err error) {
	parts := strings.SplitN(strings.TrimSpace(data), " ", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedCommand, data)
	}
	return parts[0], parts[1], nil
}

func parseTimestamp(arg string) (float64, error) {
	ts, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad timestamp %q", ErrMalformedCommand, arg)
	}
	return ts, nil
}

func parseFileIndex(arg string) (int, error) {
	index, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: bad file index %q", ErrMalformedCommand, arg)
	}
	return index, nil
}

func formatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

func statusFrame(status Status, ts float64) string {
	return fmt.Sprintf("%s %s", status, formatTimestamp(ts))
}

func resumeFrame(ts float64) string {
	return fmt.Sprintf("%s %s", cmdUnsuspend, formatTimestamp(ts))
}

func changeFileFrame(displayIndex int) string {
	return fmt.Sprintf("%s %d", cmdChangeFile, displayIndex)
}

func peopleCountFrame(count int) string {
	return fmt.Sprintf("%s %d", cmdPeopleCount, count)
}
