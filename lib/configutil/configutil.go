// Package configutil loads the json5 configuration files the binaries
// in this repo read on startup (config.json5, telemetry.json5). Each
// file may carry a machine-local override sibling that wins field by
// field, so credentials and local endpoints stay out of the checked-in
// file.
package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// localPath derives the override file name: config.json5 becomes
// config.local.json5.
func localPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// decodeFile reads and unmarshals one file into out, reporting whether
// the file existed at all.
func decodeFile[T any](path string, out *T) (bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = json5.Unmarshal(contents, out)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return true, nil
}

// ReadConfig reads name and, when present, merges the `.local` sibling
// on top of it. Neither file existing yields os.ErrNotExist so callers
// can treat absent config as "feature off" (the way telemetry setup
// does) instead of a failure.
func ReadConfig[T any](name string) (T, error) {
	var config T
	found, err := decodeFile(name, &config)
	if err != nil {
		return config, err
	}

	var override T
	foundLocal, err := decodeFile(localPath(name), &override)
	if err != nil {
		return config, err
	}
	if foundLocal {
		err = mergo.Merge(&config, override, mergo.WithOverride)
		if err != nil {
			return config, err
		}
		slog.Info("merged local config overrides", "file", localPath(name))
	}

	if !found && !foundLocal {
		return config, os.ErrNotExist
	}
	return config, nil
}

// ReadRecursively looks for name in the working directory and then
// each parent up to the filesystem root. telemetry.json5 lives at the
// repo root while tests run deep inside package directories, so the
// upward walk lets both find the same file.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	dir, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(dir, name))
		if err == nil {
			return config, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return zero, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return zero, os.ErrNotExist
		}
		dir = parent
	}
}
