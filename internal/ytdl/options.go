package ytdl

import (
	"path/filepath"
	"strconv"

	"github.com/datallboy/gotubedl/internal/infra/config"
)

// OptionsParser turns config download options into yt-dlp command line flags.
type OptionsParser struct{}

func (OptionsParser) Parse(o config.DownloadOptions) []string {
	// One progress update per line so the output can be scanned
	args := []string{"--newline"}

	template := o.OutputTemplate
	if template == "" {
		template = "%(title)s.%(ext)s"
	}
	args = append(args, "-o", filepath.Join(o.OutDir, template))

	if o.AudioOnly {
		args = append(args, "-x")
		if o.AudioFormat != "" {
			args = append(args, "--audio-format", o.AudioFormat)
		}
		if o.AudioQuality != "" {
			args = append(args, "--audio-quality", o.AudioQuality)
		}
	} else if o.Format != "" {
		args = append(args, "-f", o.Format)
	}

	if o.RestrictFilenames {
		args = append(args, "--restrict-filenames")
	}
	if o.IgnoreErrors {
		args = append(args, "--ignore-errors")
	}
	if o.NoPlaylist {
		args = append(args, "--no-playlist")
	}
	if o.Proxy != "" {
		args = append(args, "--proxy", o.Proxy)
	}
	if o.RateLimit != "" {
		args = append(args, "--limit-rate", o.RateLimit)
	}
	if o.MaxFilesize != "" {
		args = append(args, "--max-filesize", o.MaxFilesize)
	}
	if o.WriteSubs {
		args = append(args, "--write-subs")
		if o.SubLangs != "" {
			args = append(args, "--sub-langs", o.SubLangs)
		}
	}
	if o.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(o.Retries))
	}

	return append(args, o.ExtraArgs...)
}
