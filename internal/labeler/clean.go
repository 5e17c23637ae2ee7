package labeler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
)

// AutoClean repairs names that lost the dot before their jpg extension,
// so abcjpg becomes abc.jpg. Every jpg in a name without .jpg gets a dot.
// It returns the number of renamed files.
func AutoClean(fs afero.Fs, root string) (int, error) {
	log := GetLogger().With(logger.String("root", root))
	renamed := 0

	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		name := info.Name()
		if strings.Contains(name, ".jpg") || !strings.Contains(name, "jpg") {
			return nil
		}

		target := filepath.Join(filepath.Dir(path), strings.ReplaceAll(name, "jpg", ".jpg"))
		if exists, err := afero.Exists(fs, target); err != nil || exists {
			log.Warn("clean target exists, skipping", logger.String("path", path), logger.String("target", target))
			return nil
		}
		if err := fs.Rename(path, target); err != nil {
			return errors.New(err).
				Component("labeler").
				Category(errors.CategoryFileIO).
				FileContext(path, info.Size()).
				Context("operation", "auto_clean").
				Context("path", path).
				Build()
		}
		log.Debug("renamed", logger.String("path", path), logger.String("target", target))
		renamed++
		return nil
	})
	if err != nil {
		return renamed, err
	}

	log.Info("clean finished", logger.Int("renamed", renamed))
	return renamed, nil
}
