package platform

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lrstanley/go-ytdlp"
)

// OptionalBinaries lists external tools yt-dlp shells out to for post-processing
var OptionalBinaries = map[string]string{
	"ffmpeg":  "merging formats and audio extraction",
	"ffprobe": "audio extraction",
}

// MissingOptional returns a human readable line for every optional tool not in PATH.
func MissingOptional() []string {
	var missing []string
	for bin, feature := range OptionalBinaries {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, fmt.Sprintf("%s not found, %s will be unavailable", bin, feature))
		}
	}
	return missing
}

// ToolExists reports whether path names a runnable downloader. A bare name
// without a directory component is resolved through PATH.
func ToolExists(path string) bool {
	if path == "" {
		return false
	}
	if !strings.ContainsRune(path, os.PathSeparator) && !strings.ContainsRune(path, '/') {
		_, err := exec.LookPath(path)
		return err == nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// Installer fetches yt-dlp through go-ytdlp's resolver and places it at the requested path.
type Installer struct {
	// Force reinstalls even when the target already exists
	Force bool

	// resolve is swapped in tests
	resolve func(ctx context.Context) (string, error)

	mu sync.Mutex
}

func NewInstaller(force bool) *Installer {
	return &Installer{Force: force, resolve: resolveYtdlp}
}

func resolveYtdlp(ctx context.Context) (string, error) {
	resolved, err := ytdlp.Install(ctx, &ytdlp.InstallOptions{DisableSystem: true})
	if err != nil {
		return "", err
	}
	return resolved.Executable, nil
}

// EnsurePresent installs the binary at path unless it already exists.
func (i *Installer) EnsurePresent(ctx context.Context, path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.Force && ToolExists(path) {
		return nil
	}

	src, err := i.resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve yt-dlp: %w", err)
	}

	if filepath.Clean(src) == filepath.Clean(path) {
		return nil
	}

	if err := copyExecutable(src, path); err != nil {
		return fmt.Errorf("install yt-dlp to %s: %w", path, err)
	}
	return nil
}

func copyExecutable(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// Write beside the target and rename so a running download never sees a partial file
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}
