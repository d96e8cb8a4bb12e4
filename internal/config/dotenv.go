package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DotEnv records the outcome of loading a .env file so it can be logged once
// the logger exists.
type DotEnv struct {
	Path   string
	Loaded bool
	Keys   int // variables actually set (existing environment wins)
}

// DotEnvPath returns the .env location: DOTENV_PATH if set, else ./.env.
func DotEnvPath() string {
	if p := os.Getenv("DOTENV_PATH"); p != "" {
		return p
	}
	return ".env"
}

// LoadDotEnv reads KEY=VALUE lines from path into the process environment.
// Variables already present in the environment are left untouched. A missing
// file is not an error.
func LoadDotEnv(path string) (DotEnv, error) {
	res := DotEnv{Path: path}

	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("dotenv: read %s: %w", path, err)
	}
	res.Loaded = true

	for k, v := range vars {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return res, fmt.Errorf("dotenv: set %s: %w", k, err)
		}
		res.Keys++
	}
	return res, nil
}
