/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/fedemaldo95/geo-asu/games/geoguess/locations"
)

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

// loadCities reads the catalog named by --cities, falling back to the
// built-in one. Any format viper understands works; entries live under "cities".
func loadCities(path string) ([]locations.City, error) {
	if path == "" {
		return locations.DefaultCities, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading cities file: %w", err)
	}

	var cities []locations.City
	if err := v.UnmarshalKey("cities", &cities); err != nil {
		return nil, fmt.Errorf("decoding cities file: %w", err)
	}
	if len(cities) == 0 {
		return nil, fmt.Errorf("%s: %w", path, locations.ErrNoCities)
	}

	return cities, nil
}
