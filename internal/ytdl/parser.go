package ytdl

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/datallboy/gotubedl/internal/domain"
)

var (
	// [download]  42.5% of ~10.00MiB at  1.20MiB/s ETA 00:07
	reProgress = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?%)\s+of\s+~?\s*(\S+)(?:\s+in\s+\S+)?(?:\s+at\s+(.+?))?(?:\s+ETA\s+(\S+))?(?:\s+\(frag.*\))?$`)

	// [download] Downloading video 2 of 5 (youtube-dl) / Downloading item 2 of 5 (yt-dlp)
	rePlaylist = regexp.MustCompile(`^\[download\]\s+Downloading (?:video|item) (\d+) of (\d+)`)

	reDestination = regexp.MustCompile(`^\[download\]\s+Destination:\s+(.+)$`)
	reAlready     = regexp.MustCompile(`^\[download\]\s+(.+?) has already been downloaded`)
	reMerging     = regexp.MustCompile(`^\[(?:ffmpeg|Merger)\]\s+Merging formats into "(.+)"$`)
	rePostDest    = regexp.MustCompile(`^\[(?:ffmpeg|ExtractAudio)\]\s+Destination:\s+(.+)$`)
)

const maxFilesizeMarker = "File is larger than max-filesize"

// outputParser turns yt-dlp output lines into StatusEvents and remembers what
// it has seen so the final outcome can be classified.
type outputParser struct {
	playlistIndex string
	playlistSize  string

	alreadyExists bool
	filesizeAbort bool
	warning       bool
	errored       bool

	lastError string
}

// feed parses one line. ok is false when the line carries no progress information.
func (p *outputParser) feed(line string, stderr bool) (ev domain.StatusEvent, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ev, false
	}

	if strings.HasPrefix(line, "ERROR:") {
		if strings.Contains(line, maxFilesizeMarker) {
			p.filesizeAbort = true
			return ev, false
		}
		p.errored = true
		p.lastError = strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		return ev, false
	}
	if strings.HasPrefix(line, "WARNING:") {
		p.warning = true
		return ev, false
	}
	if stderr {
		return ev, false
	}

	if strings.Contains(line, maxFilesizeMarker) {
		p.filesizeAbort = true
		return p.event(domain.StatusFilesizeAbort), true
	}

	if m := rePlaylist.FindStringSubmatch(line); m != nil {
		p.playlistIndex, p.playlistSize = m[1], m[2]
		return p.event(domain.StatusDownloading), true
	}

	if m := reDestination.FindStringSubmatch(line); m != nil {
		ev = p.event(domain.StatusDownloading)
		ev.Filename, ev.Extension = splitName(m[1])
		return ev, true
	}

	if m := reAlready.FindStringSubmatch(line); m != nil {
		p.alreadyExists = true
		ev = p.event(domain.StatusAlready)
		ev.Filename, ev.Extension = splitName(m[1])
		return ev, true
	}

	if m := reProgress.FindStringSubmatch(line); m != nil {
		ev = p.event(domain.StatusDownloading)
		ev.Percent = m[1]
		ev.Filesize = m[2]
		if speed := strings.TrimSpace(m[3]); speed != "" && speed != "Unknown speed" {
			ev.Speed = speed
		}
		if m[4] != "" && m[4] != "Unknown" {
			ev.ETA = m[4]
		}
		return ev, true
	}

	if m := reMerging.FindStringSubmatch(line); m != nil {
		ev = p.event(domain.StatusPostProcessing)
		ev.Filename, ev.Extension = splitName(m[1])
		return ev, true
	}

	if m := rePostDest.FindStringSubmatch(line); m != nil {
		ev = p.event(domain.StatusPostProcessing)
		ev.Filename, ev.Extension = splitName(m[1])
		return ev, true
	}

	return ev, false
}

func (p *outputParser) event(status string) domain.StatusEvent {
	return domain.StatusEvent{
		Status:        status,
		PlaylistIndex: p.playlistIndex,
		PlaylistSize:  p.playlistSize,
	}
}

// outcome classifies the run once the process has exited. exitOK is false for a
// non-zero exit status.
func (p *outputParser) outcome(exitOK, stopped bool) domain.Outcome {
	switch {
	case stopped:
		return domain.OutcomeStopped
	case p.filesizeAbort:
		return domain.OutcomeFilesizeAbort
	case p.errored || !exitOK:
		return domain.OutcomeError
	case p.alreadyExists:
		return domain.OutcomeAlreadyExists
	case p.warning:
		return domain.OutcomeWarning
	default:
		return domain.OutcomeOK
	}
}

// splitName returns the base name without extension and the extension with its dot.
func splitName(path string) (string, string) {
	path = strings.Trim(strings.TrimSpace(path), `"`)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}
