// Package buildtesting provides a pool of Go build environments for use in tests.
//
// Each environment is a module named "test" in a workspace with the bindgraph module, so test code can import
// the bindgraph runtime.
package buildtesting

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/alecthomas/errors"
)

type Env struct {
	dir string
}

func newEnv(moduleDir, dir string) Env {
	err := os.MkdirAll(dir, 0750)
	if err != nil {
		log.Fatalln(err)
	}
	poolExecIn(dir, "go", "mod", "init", "test")
	poolExecIn(dir, "go", "work", "init", dir, moduleDir)
	return Env{dir: dir}
}

type Pool struct {
	moduleDir string
	available chan Env
}

// Run should be called from TestMain.
//
//	func TestMain(m *testing.M) { buildtesting.Run(m) }
//
// Then use Prepare() to retrieve an environment.
func Run(m *testing.M) {
	moduleDir, err := findModuleRoot()
	if err != nil {
		log.Fatalln(err)
	}
	dir, err := os.MkdirTemp("", "bindgraph-build-")
	if err != nil {
		log.Fatal(err)
	}
	count := runtime.NumCPU()
	pool = &Pool{
		moduleDir: moduleDir,
		available: make(chan Env, count),
	}
	for i := range count {
		pool.available <- newEnv(moduleDir, filepath.Join(dir, strconv.Itoa(i)))
	}
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

var pool *Pool

// Prepare a new test environment containing main.go, returning the path.
func Prepare(t *testing.T, main string) string {
	t.Helper()
	return pool.Prepare(t, main)
}

// Prepare a new test environment containing main.go, returning the path.
//
// When the test completes the environment will be returned to the pool.
func (p *Pool) Prepare(t *testing.T, main string) string {
	t.Helper()
	env := <-p.available
	t.Cleanup(func() { p.returnEnv(t, env) })
	err := os.WriteFile(filepath.Join(env.dir, "main.go"), []byte(main), 0600)
	assert.NoError(t, err)
	return env.dir
}

// Build the environment at dir, failing the test with the compiler output on error.
func Build(t *testing.T, dir string) {
	t.Helper()
	cmd := exec.CommandContext(t.Context(), "go", "build", "./...")
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	assert.NoError(t, err, "%s", output)
}

// Exec runs the program in the environment at dir and returns its standard output.
func Exec(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.CommandContext(t.Context(), "go", append([]string{"run", "."}, args...)...)
	cmd.Dir = dir
	stderr := &strings.Builder{}
	cmd.Stderr = stderr
	output, err := cmd.Output()
	assert.NoError(t, err, "%s", stderr)
	return string(output)
}

// returnEnv removes the Go files written to an environment and returns it to the pool.
func (p *Pool) returnEnv(t *testing.T, env Env) {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(env.dir, "*.go"))
	assert.NoError(t, err)
	for _, file := range files {
		assert.NoError(t, os.Remove(file))
	}
	p.available <- env
}

// findModuleRoot searches up from the working directory for the bindgraph go.mod.
func findModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", errors.WithStack(err)
	}
	for {
		data, err := os.ReadFile(filepath.Join(dir, "go.mod")) //nolint
		if err == nil && strings.Contains(string(data), "module github.com/alecthomas/bindgraph\n") {
			return dir, nil
		}
		if dir == filepath.Dir(dir) {
			return "", errors.Errorf("could not find the bindgraph module root")
		}
		dir = filepath.Dir(dir)
	}
}

func poolExecIn(dir string, cmd ...string) {
	c := exec.CommandContext(context.Background(), cmd[0], cmd[1:]...)
	b := &strings.Builder{}
	c.Stdout = b
	c.Stderr = b
	c.Dir = dir
	err := c.Run()
	if err != nil {
		log.Fatalln(err, b.String())
	}
}
