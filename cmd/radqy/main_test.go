package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/kshedden/gonpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/radqy/internal/config"
	dcm "github.com/mrsinham/radqy/internal/dicom"
	"github.com/mrsinham/radqy/internal/dicom/modalities"
)

// binaryPath holds the path to the compiled binary (set once in TestMain)
var binaryPath string

// projectRoot is the module root, found from this file's location
var projectRoot string

// testContext holds state for a single scenario
type testContext struct {
	tmpDir   string
	exitCode int
	output   string
}

// buildBinary compiles the radqy binary once
func buildBinary() (string, error) {
	tmpFile, err := os.CreateTemp("", "radqy-test-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", tmpFile.Name(), "./cmd/radqy")
	cmd.Dir = projectRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("build failed: %w\n%s", err, stderr.String())
	}

	return tmpFile.Name(), nil
}

// TestMain compiles the binary once before running all tests
func TestMain(m *testing.M) {
	_, thisFile, _, _ := runtime.Caller(0)
	projectRoot = filepath.Join(filepath.Dir(thisFile), "..", "..")

	var err error
	binaryPath, err = buildBinary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build binary: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.Remove(binaryPath)
	os.Exit(code)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func TestEnvConfig_SurvivesConfigFile(t *testing.T) {
	t.Setenv(envTagsDir, "/opt/radqy/tags")
	t.Setenv(envOutputRoot, "/srv/results")

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_name: cohort\noutput_root: /tmp/override\n"), 0644))

	cfg, err := config.LoadOnto(envConfig(), path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/radqy/tags", cfg.TagsDir)
	assert.Equal(t, "/tmp/override", cfg.OutputRoot, "keys set in the file win")
	assert.Equal(t, "cohort", cfg.OutputName)
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &testContext{}

	sc.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tmpDir, err := os.MkdirTemp("", "radqy-e2e-*")
		if err != nil {
			return ctx, err
		}
		tc.tmpDir = tmpDir
		return ctx, nil
	})

	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if tc.tmpDir != "" {
			os.RemoveAll(tc.tmpDir)
		}
		return ctx, nil
	})

	sc.Step(`^radqy is built$`, tc.radqyIsBuilt)
	sc.Step(`^a DICOM series of (\d+) slices for patient "([^"]*)" in "([^"]*)"$`, tc.aDICOMSeries)
	sc.Step(`^a NumPy volume "([^"]*)" with (\d+) slices in "([^"]*)"$`, tc.aNumPyVolume)
	sc.Step(`^I run radqy with "([^"]*)"$`, tc.iRunRadqyWith)
	sc.Step(`^the exit code should be (\d+)$`, tc.theExitCodeShouldBe)
	sc.Step(`^the output should contain "([^"]*)"$`, tc.theOutputShouldContain)
	sc.Step(`^"([^"]*)" should exist$`, tc.shouldExist)
	sc.Step(`^"([^"]*)" should have (\d+) rows$`, tc.shouldHaveRows)
}

func (tc *testContext) expand(path string) string {
	return strings.ReplaceAll(path, "{tmpdir}", tc.tmpDir)
}

func (tc *testContext) radqyIsBuilt() error {
	if binaryPath == "" {
		return fmt.Errorf("binary not built")
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		return fmt.Errorf("binary does not exist at %s", binaryPath)
	}
	return nil
}

// phantom is a bright square on a dim background.
func phantom(size int, bright float64) *mat.Dense {
	data := make([]float64, size*size)
	for r := range size {
		for c := range size {
			data[r*size+c] = 20
			if r >= size/4 && r < 3*size/4 && c >= size/4 && c < 3*size/4 {
				data[r*size+c] = bright
			}
		}
	}
	return mat.NewDense(size, size, data)
}

func (tc *testContext) aDICOMSeries(n int, patientID, dir string) error {
	slices := make([]*mat.Dense, n)
	for i := range slices {
		slices[i] = phantom(32, float64(300+10*i))
	}
	_, err := dcm.WriteSeries(dcm.SeriesOptions{
		Dir:            tc.expand(dir),
		Prefix:         "IM",
		ScanType:       modalities.MRI,
		PatientID:      patientID,
		Slices:         slices,
		PixelSpacing:   0.8,
		SliceThickness: 2,
	})
	return err
}

func (tc *testContext) aNumPyVolume(name string, n int, dir string) error {
	dir = tc.expand(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	w, err := gonpy.NewFileWriter(filepath.Join(dir, name+".npy"))
	if err != nil {
		return err
	}

	const size = 24
	w.Shape = []int{n, size, size}
	data := make([]float64, 0, n*size*size)
	for k := range n {
		data = append(data, phantom(size, float64(500+k)).RawMatrix().Data...)
	}
	return w.WriteFloat64(data)
}

func (tc *testContext) iRunRadqyWith(args string) error {
	argList := splitArgs(tc.expand(args))

	cmd := exec.Command(binaryPath, argList...)
	cmd.Dir = tc.tmpDir
	cmd.Env = append(os.Environ(), envTagsDir+"="+filepath.Join(projectRoot, "configs"))
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	tc.output = output.String()

	if exitErr, ok := err.(*exec.ExitError); ok {
		tc.exitCode = exitErr.ExitCode()
	} else if err != nil {
		return fmt.Errorf("failed to run command: %w", err)
	} else {
		tc.exitCode = 0
	}
	return nil
}

func (tc *testContext) theExitCodeShouldBe(expected int) error {
	if tc.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nOutput:\n%s", expected, tc.exitCode, tc.output)
	}
	return nil
}

func (tc *testContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(tc.output, expected) {
		return fmt.Errorf("output does not contain %q\nOutput:\n%s", expected, tc.output)
	}
	return nil
}

func (tc *testContext) shouldExist(path string) error {
	path = tc.expand(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("path does not exist: %s\nOutput:\n%s", path, tc.output)
	}
	return nil
}

// shouldHaveRows counts the data rows of a results file, skipping the
// comment block and the column row.
func (tc *testContext) shouldHaveRows(path string, want int) error {
	f, err := os.Open(tc.expand(path))
	if err != nil {
		return err
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "#") || scanner.Text() == "" {
			continue
		}
		lines++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if got := lines - 1; got != want {
		return fmt.Errorf("expected %d rows in %s, got %d", want, path, got)
	}
	return nil
}

// splitArgs splits a command line string into arguments
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuote := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}
