package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cwbudde/gpumembench/internal/config"
)

// maxRequestBytes bounds a run submission body.
const maxRequestBytes = 1 << 20

// decodeRunConfig reads a partial run configuration over defaults. Storage
// settings stay under the server's control.
func decodeRunConfig(r *http.Request, defaults config.Run) (config.Run, error) {
	cfg := defaults
	cfg.Kernels = append([]string(nil), defaults.Kernels...)

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config.Run{}, fmt.Errorf("invalid JSON: %w", err)
	}

	cfg.DataDir = defaults.DataDir
	cfg.Save = defaults.Save
	if err := cfg.Validate(); err != nil {
		return config.Run{}, err
	}
	return cfg, nil
}
