package stemcell

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/kdomanski/iso9660"
)

// VerifyLocalISO checks a pre-fetched installer ISO under prefix/iso against
// the configured MD5 and makes sure it opens as an ISO9660 image. A missing
// file is not an error: the build tool fetches it on its own.
func VerifyLocalISO(cfg Config, logger *slog.Logger) error {
	path := cfg.LocalISOPath()
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("iso not present locally", "iso", path, "url", cfg.ISO.URL)
			return nil
		}
		return fmt.Errorf("open iso %s: %w", path, err)
	}
	defer f.Close()

	if cfg.ISO.MD5 != "" {
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return fmt.Errorf("hash iso %s: %w", path, err)
		}
		sum := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(sum, cfg.ISO.MD5) {
			return fmt.Errorf("%w: %s has md5 %s, expected %s", ErrISOChecksumMismatch, path, sum, cfg.ISO.MD5)
		}
	}

	image, err := iso9660.OpenImage(f)
	if err != nil {
		return fmt.Errorf("read iso %s: %w", path, err)
	}
	root, err := image.RootDir()
	if err != nil {
		return fmt.Errorf("read iso root %s: %w", path, err)
	}
	children, err := root.GetChildren()
	if err != nil {
		return fmt.Errorf("list iso root %s: %w", path, err)
	}

	logger.Info("verified local iso", "iso", path, "root_entries", len(children))
	return nil
}
