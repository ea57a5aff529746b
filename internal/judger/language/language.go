// Package language holds the table of supported languages and detects the
// language of a stored file.
package language

import (
	"math"
	"path"
	"path/filepath"
	"strings"

	"judger/internal/judger/model"
	"judger/internal/judger/sandbox/spec"
	pkgerrors "judger/pkg/errors"

	"github.com/google/shlex"
)

// SandboxDir is where compile and run directories are mounted inside the
// sandbox.
const SandboxDir = "/root"

// Spec defines how to compile and run a language.
type Spec struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Extensions       []string `yaml:"extensions"`
	SourceFile       string   `yaml:"sourceFile"`
	BinaryFile       string   `yaml:"binaryFile"`
	CompileEnabled   bool     `yaml:"compileEnabled"`
	CompileCmd       string   `yaml:"compileCmd"`
	RunCmd           string   `yaml:"runCmd"`
	Env              []string `yaml:"env"`
	TimeMultiplier   float64  `yaml:"timeMultiplier"`
	MemoryMultiplier float64  `yaml:"memoryMultiplier"`
}

// ExecFile is the name of the file a run needs in its working directory.
func (s Spec) ExecFile() string {
	if s.CompileEnabled {
		return s.BinaryFile
	}
	return s.SourceFile
}

// CompileCommand expands the compile template.
func (s Spec) CompileCommand() ([]string, error) {
	return s.expand(s.CompileCmd)
}

// RunCommand expands the run template.
func (s Spec) RunCommand() ([]string, error) {
	return s.expand(s.RunCmd)
}

func (s Spec) expand(tpl string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("command template is required")
	}
	expanded := strings.ReplaceAll(tpl, "{src}", path.Join(SandboxDir, s.SourceFile))
	expanded = strings.ReplaceAll(expanded, "{bin}", path.Join(SandboxDir, s.BinaryFile))
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "parse command template failed: %v", err)
	}
	if len(fields) == 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

// ScaleLimits applies the language multipliers to time and memory limits.
func (s Spec) ScaleLimits(limits spec.ResourceLimit) spec.ResourceLimit {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, s.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, s.TimeMultiplier)
	limits.MemoryMB = scaleLimit(limits.MemoryMB, s.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

// Table indexes language specs by id and file extension.
type Table struct {
	byID  map[string]Spec
	byExt map[string]string
}

// NewTable validates specs and builds the lookup table. Later specs cannot
// claim an extension already taken by an earlier one.
func NewTable(specs []Spec) (*Table, error) {
	t := &Table{byID: make(map[string]Spec, len(specs)), byExt: make(map[string]string)}
	for i, s := range specs {
		if err := validateSpec(s); err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.ValidationFailed, "language[%d]: %v", i, err)
		}
		if _, dup := t.byID[s.ID]; dup {
			return nil, pkgerrors.Newf(pkgerrors.ValidationFailed, "duplicate language %s", s.ID)
		}
		t.byID[s.ID] = s
		for _, ext := range s.Extensions {
			ext = normalizeExt(ext)
			if _, taken := t.byExt[ext]; !taken {
				t.byExt[ext] = s.ID
			}
		}
	}
	return t, nil
}

func validateSpec(s Spec) error {
	switch {
	case s.ID == "":
		return pkgerrors.ValidationError("id", "required")
	case s.SourceFile == "":
		return pkgerrors.ValidationError("sourceFile", "required")
	case s.RunCmd == "":
		return pkgerrors.ValidationError("runCmd", "required")
	case s.CompileEnabled && (s.CompileCmd == "" || s.BinaryFile == ""):
		return pkgerrors.ValidationError("compileCmd", "compiled languages need compileCmd and binaryFile")
	}
	return nil
}

// Get returns the spec for id.
func (t *Table) Get(id string) (Spec, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// Detect picks the language of file: its Type when that names a language,
// otherwise the extension of its Name.
func (t *Table) Detect(file model.File) (Spec, error) {
	if s, ok := t.byID[file.Type]; ok {
		return s, nil
	}
	if id, ok := t.byExt[normalizeExt(filepath.Ext(file.Name))]; ok {
		return t.byID[id], nil
	}
	return Spec{}, pkgerrors.Newf(pkgerrors.LanguageNotSupported, "unsupported language for %q", file.Name)
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Defaults is the language table used when none is configured.
func Defaults() []Spec {
	return []Spec{
		{
			ID:             "c",
			Name:           "C",
			Extensions:     []string{"c"},
			SourceFile:     "main.c",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmd:     "gcc -O2 -std=c11 -o {bin} {src} -lm",
			RunCmd:         "{bin}",
		},
		{
			ID:             "cpp",
			Name:           "C++",
			Extensions:     []string{"cpp", "cc", "cxx"},
			SourceFile:     "main.cpp",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmd:     "g++ -O2 -std=c++17 -o {bin} {src}",
			RunCmd:         "{bin}",
		},
		{
			ID:               "java",
			Name:             "Java",
			Extensions:       []string{"java"},
			SourceFile:       "Main.java",
			BinaryFile:       "Main.jar",
			CompileEnabled:   true,
			CompileCmd:       `sh -c "cd /root && javac Main.java && jar cfe Main.jar Main *.class"`,
			RunCmd:           "java -jar {bin}",
			TimeMultiplier:   2,
			MemoryMultiplier: 2,
		},
		{
			ID:             "python3",
			Name:           "Python 3",
			Extensions:     []string{"py"},
			SourceFile:     "main.py",
			RunCmd:         "python3 {src}",
			TimeMultiplier: 2,
		},
	}
}
