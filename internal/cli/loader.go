package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/manifest"
	"github.com/roach88/tether/internal/module"
)

// LoadError is a manifest or config loading error with a CLI error code.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// loadConfig reads --config. An explicit path must exist; without one,
// ./tether.toml is used when present and defaults otherwise.
func loadConfig(opts *RootOptions) (config.Config, error) {
	path := opts.Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return config.Config{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
		}
	} else {
		path = config.FileName
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
	}
	return cfg, nil
}

// manifestDir picks the manifests directory: the flag wins over the
// config file.
func manifestDir(flag string, cfg config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Manifests.Dir
}

// loadManifests compiles the manifests in dir and converts failures to
// LoadErrors. A nil result means nothing could be loaded.
func loadManifests(dir string, mode manifest.LoadMode) (*manifest.LoadResult, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifests directory not found: %s", dir)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}
	files, err := manifest.FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	res, errs := manifest.Load(dir, mode)
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		le := &LoadError{Code: ErrCodeManifest, Message: err.Error()}
		var ce *manifest.CompileError
		if errors.As(err, &ce) {
			le.Message = fmt.Sprintf("%s: %s", ce.Field, ce.Message)
			le.Pos = ce.Pos
		}
		out = append(out, le)
	}
	return res, out
}

// buildModules loads dir fail-fast and builds every module.
func buildModules(dir string) ([]module.NativeModule, error) {
	res, errs := loadManifests(dir, manifest.FailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	defs, err := manifest.BuildAll(res.Modules)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeManifest, Message: err.Error()}
	}
	mods := make([]module.NativeModule, len(defs))
	for i, d := range defs {
		mods[i] = d
	}
	return mods, nil
}

// loadErrorCode returns the code of a LoadError, or ErrCodeGeneric.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}

// lineOf extracts the line number from a CUE position.
func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}
