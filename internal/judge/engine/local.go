package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gavel/internal/message"
	appErr "gavel/pkg/errors"
)

const (
	compileTimeout = 30 * time.Second
	maxOutputBytes = 1 << 20
)

type languageSpec struct {
	sourceFile string
	compile    []string // empty for interpreted languages
	run        []string
}

var languageSpecs = map[message.Language]languageSpec{
	message.LanguageCPP: {
		sourceFile: "main.cpp",
		compile:    []string{"g++", "-O2", "-std=c++17", "-o", "main", "main.cpp"},
		run:        []string{"./main"},
	},
	message.LanguageJava: {
		sourceFile: "Main.java",
		compile:    []string{"javac", "Main.java"},
		run:        []string{"java", "-Xss64m", "Main"},
	},
	message.LanguagePython: {
		sourceFile: "main.py",
		run:        []string{"python3", "main.py"},
	},
	message.LanguageJavaScript: {
		sourceFile: "main.js",
		run:        []string{"node", "main.js"},
	},
}

// LocalEngine compiles and runs submissions as subprocesses in a scratch
// directory. It is the single-host backend; a sandboxed backend satisfies the
// same interface.
type LocalEngine struct {
	workDir string
}

// NewLocalEngine creates a local engine rooted at workDir, or the system
// temp directory when workDir is empty.
func NewLocalEngine(workDir string) *LocalEngine {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &LocalEngine{workDir: workDir}
}

// Prepare writes the source into a fresh directory and compiles it when the
// language needs it.
func (e *LocalEngine) Prepare(ctx context.Context, language message.Language, source string) (Program, error) {
	spec, ok := languageSpecs[language]
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q has no execution profile", language)
	}
	dir, err := os.MkdirTemp(e.workDir, "judge-*")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.EngineUnavailable, "create scratch dir failed")
	}
	if err := os.WriteFile(filepath.Join(dir, spec.sourceFile), []byte(source), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, appErr.Wrapf(err, appErr.EngineUnavailable, "write source failed")
	}

	if len(spec.compile) > 0 {
		ctxCompile, cancel := context.WithTimeout(ctx, compileTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctxCompile, spec.compile[0], spec.compile[1:]...)
		cmd.Dir = dir
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			_ = os.RemoveAll(dir)
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) || ctxCompile.Err() != nil {
				return nil, &CompileError{Log: truncate(stderr.String())}
			}
			return nil, appErr.Wrapf(err, appErr.EngineUnavailable, "run compiler failed")
		}
	}
	return &localProgram{dir: dir, spec: spec}, nil
}

type localProgram struct {
	dir  string
	spec languageSpec
}

// Run executes the program against one input under the given limits.
func (p *localProgram) Run(ctx context.Context, input string, limits Limits) (*RunResult, error) {
	timeout := time.Duration(limits.Time * float64(time.Second))
	if timeout <= 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("time limit must be positive")
	}
	ctxRun, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctxRun, p.spec.run[0], p.spec.run[1:]...)
	cmd.Dir = p.dir
	cmd.Stdin = strings.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Seconds()

	result := &RunResult{
		Output:     truncate(stdout.String()),
		Stderr:     truncate(stderr.String()),
		TimeTaken:  elapsed,
		MemoryUsed: peakMemoryMB(cmd.ProcessState),
	}
	switch {
	case ctxRun.Err() == context.DeadlineExceeded:
		result.Outcome = OutcomeTimeLimitExceeded
		result.TimeTaken = limits.Time
	case limits.Memory > 0 && result.MemoryUsed > limits.Memory:
		result.Outcome = OutcomeMemoryLimitExceeded
	case err != nil:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, appErr.Wrapf(err, appErr.EngineUnavailable, "start program failed")
		}
		result.Outcome = OutcomeRuntimeError
	default:
		result.Outcome = OutcomeOK
	}
	return result, nil
}

// Close removes the scratch directory.
func (p *localProgram) Close() error {
	return os.RemoveAll(p.dir)
}

func truncate(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}
