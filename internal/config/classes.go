package config

import (
	"fmt"

	"github.com/spf13/viper"

	"sentinel-edge-go/internal/models"
)

// LoadClassTable reads the model's class labels from a YAML, JSON or TOML
// file with a top-level "classes" list ordered by model index. An empty
// path returns the default table. Unknown labels fail here, never per frame.
func LoadClassTable(path string) (*models.ClassTable, error) {
	if path == "" {
		return models.DefaultClassTable(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read class table %s: %w", path, err)
	}

	labels := v.GetStringSlice("classes")
	if len(labels) == 0 {
		return nil, fmt.Errorf("class table %s has no classes", path)
	}

	table, err := models.NewClassTable(labels)
	if err != nil {
		return nil, fmt.Errorf("invalid class table %s: %w", path, err)
	}
	return table, nil
}
