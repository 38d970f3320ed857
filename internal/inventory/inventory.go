// Package inventory loads the installed-application list from a YAML file
// and mirrors it into the rule store.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/generalrules/internal/models"
)

// File is the on-disk inventory document.
//
//	apps:
//	  - package_name: com.example.app
//	    label: Example
//	    version: "1.2.0"
//	    components:
//	      - com.example.app.MainActivity
type File struct {
	Apps []models.App `yaml:"apps"`
}

// Validate checks that every app has a unique package name.
func (f *File) Validate() error {
	seen := make(map[string]struct{}, len(f.Apps))
	for i := range f.Apps {
		a := &f.Apps[i]
		if err := validation.ValidateStruct(a,
			validation.Field(&a.PackageName, validation.Required),
		); err != nil {
			return fmt.Errorf("apps[%d]: %w", i, err)
		}
		if _, dup := seen[a.PackageName]; dup {
			return fmt.Errorf("apps[%d]: duplicate package %q", i, a.PackageName)
		}
		seen[a.PackageName] = struct{}{}
	}
	return nil
}

// Store is the subset of the rule store the inventory writes to.
type Store interface {
	ReplaceApps(ctx context.Context, apps []models.App) error
}

// Load reads and validates the inventory at path. A missing file yields an
// empty inventory.
func Load(path string) ([]models.App, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.App{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("inventory: parse %s: %w", path, err)
	}
	for i := range f.Apps {
		f.Apps[i].PackageName = strings.TrimSpace(f.Apps[i].PackageName)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	slices.SortFunc(f.Apps, func(a, b models.App) int {
		return strings.Compare(a.PackageName, b.PackageName)
	})
	return f.Apps, nil
}

// Refresh loads the inventory at path into store.
func Refresh(ctx context.Context, path string, store Store, logger *slog.Logger) error {
	apps, err := Load(path)
	if err != nil {
		return err
	}
	if err := store.ReplaceApps(ctx, apps); err != nil {
		return fmt.Errorf("inventory: store: %w", err)
	}
	logger.Info("inventory: loaded", slog.String("path", path), slog.Int("apps", len(apps)))
	return nil
}
