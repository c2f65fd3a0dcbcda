package models

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBaseURL hosts the ggml whisper models.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Downloader fetches tier model files into Dir.
type Downloader struct {
	BaseURL string
	Dir     string
	Client  *http.Client
	Out     io.Writer
}

// NewDownloader returns a Downloader writing progress to stdout.
func NewDownloader(dir string) *Downloader {
	return &Downloader{
		BaseURL: DefaultBaseURL,
		Dir:     dir,
		Client:  http.DefaultClient,
		Out:     os.Stdout,
	}
}

// Download fetches the model for tier unless it already exists, returning
// the destination path.
func (d *Downloader) Download(ctx context.Context, tier Tier) (string, error) {
	name := tier.FileName()
	if name == "" {
		return "", fmt.Errorf("models: unknown tier %q", tier)
	}
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating models dir: %w", err)
	}

	destPath := filepath.Join(d.Dir, name)

	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		fmt.Fprintf(d.Out, "  Model already exists: %s (%.0f MB)\n", destPath, float64(info.Size())/(1024*1024))
		return destPath, nil
	}

	url := strings.TrimSuffix(d.BaseURL, "/") + "/" + name
	fmt.Fprintf(d.Out, "  Downloading %s model...\n", tier)
	fmt.Fprintf(d.Out, "  URL: %s\n", url)
	fmt.Fprintf(d.Out, "  Destination: %s\n", destPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	pr := &progressWriter{
		writer: f,
		out:    d.Out,
		total:  resp.ContentLength,
		label:  name,
	}

	written, err := io.Copy(pr, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing model file: %w", err)
	}

	fmt.Fprintf(d.Out, "\n  Downloaded %.1f MB\n", float64(written)/(1024*1024))

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("moving model file: %w", err)
	}

	return destPath, nil
}

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/(1024*1024),
			float64(pw.total)/(1024*1024),
			pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/(1024*1024))
	}
	return n, err
}

// RunInteractive prompts for which tiers to download and fetches them.
func (d *Downloader) RunInteractive(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(d.Out, "=== Model Download ===")
	fmt.Fprintln(d.Out)
	fmt.Fprintf(d.Out, "Models will be downloaded to: %s\n", d.Dir)
	fmt.Fprintln(d.Out)
	fmt.Fprintln(d.Out, "Which models would you like to download?")
	fmt.Fprintln(d.Out, "  [1] fast     (tiny.en,  ~75 MB)")
	fmt.Fprintln(d.Out, "  [2] balanced (base.en,  ~142 MB)")
	fmt.Fprintln(d.Out, "  [3] accurate (small.en, ~466 MB)")
	fmt.Fprintln(d.Out, "  [4] All")
	fmt.Fprintln(d.Out)
	fmt.Fprint(d.Out, "Choice [1/2/3/4]: ")

	line, _ := bufio.NewReader(in).ReadString('\n')
	choice := strings.TrimSpace(line)

	fmt.Fprintln(d.Out)

	var tiers []Tier
	switch choice {
	case "1":
		tiers = []Tier{TierFast}
	case "2":
		tiers = []Tier{TierBalanced}
	case "3":
		tiers = []Tier{TierAccurate}
	case "4":
		tiers = []Tier{TierFast, TierBalanced, TierAccurate}
	default:
		return fmt.Errorf("invalid choice: %q (expected 1, 2, 3, or 4)", choice)
	}

	for i, tier := range tiers {
		fmt.Fprintf(d.Out, "[%d/%d] %s model:\n", i+1, len(tiers), tier)
		if _, err := d.Download(ctx, tier); err != nil {
			return fmt.Errorf("%s download failed: %w", tier, err)
		}
		fmt.Fprintln(d.Out)
	}
	fmt.Fprintln(d.Out, "Models downloaded successfully!")
	return nil
}
