package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/parser"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// FailFast stops on the first error encountered.
	FailFast LoadMode = iota
	// CollectAll collects all module errors before returning.
	CollectAll
)

// LoadResult contains the modules compiled from a directory.
type LoadResult struct {
	Modules   []ModuleSpec
	FileCount int
}

// Load compiles every `module` entry of the CUE package in dir.
func Load(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("manifest directory %s: %w", dir, err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("scanning %s: %w", dir, err)}
	}
	if len(files) == 0 {
		return nil, []error{fmt.Errorf("no CUE files found in %s", dir)}
	}

	pkg, err := packageOf(files)
	if err != nil {
		return nil, []error{err}
	}
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir, Package: pkg})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded from %s", dir)}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{formatCUEError(inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	modules, errs := compileAll(value, mode)
	return &LoadResult{Modules: modules, FileCount: len(files)}, errs
}

// CompileString compiles manifest source held in memory. filename is used
// in error positions.
func CompileString(filename, src string) ([]ModuleSpec, error) {
	value := cuecontext.New().CompileString(src, cue.Filename(filename))
	modules, errs := compileAll(value, FailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return modules, nil
}

func compileAll(value cue.Value, mode LoadMode) ([]ModuleSpec, []error) {
	if err := value.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	value = withSchema(value)

	// The schema always declares module, so emptiness is checked by
	// counting its fields.
	iter, err := value.LookupPath(cue.ParsePath("module")).Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var modules []ModuleSpec
	var errs []error
	declared := 0
	for iter.Next() {
		declared++
		spec, err := compileValidated(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("module.%s: %w", iter.Label(), err))
			if mode == FailFast {
				return modules, errs
			}
			continue
		}
		modules = append(modules, *spec)
	}
	if declared == 0 {
		return nil, []error{&CompileError{Field: "module", Message: "no modules declared", Pos: value.Pos()}}
	}
	return modules, errs
}

// compileValidated checks one module against the schema before compiling
// it, so a bad module does not hide the others.
func compileValidated(v cue.Value) (*ModuleSpec, error) {
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileModule(v)
}

// packageOf returns the load.Config package for files: their package
// name, or "_" when none has a package clause. Mixed names are an error.
func packageOf(files []string) (string, error) {
	pkg := ""
	for _, f := range files {
		parsed, err := parser.ParseFile(f, nil, parser.PackageClauseOnly)
		if err != nil {
			return "", formatCUEError(err)
		}
		name := parsed.PackageName()
		if name == "" {
			continue
		}
		if pkg != "" && name != pkg {
			return "", fmt.Errorf("%s: package %s, expected %s", f, name, pkg)
		}
		pkg = name
	}
	if pkg == "" {
		return "_", nil
	}
	return pkg, nil
}

// FindCUEFiles lists the .cue files directly in dir.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
