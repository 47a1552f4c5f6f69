package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eaburns/ilgraph/asm"
	"github.com/eaburns/ilgraph/il"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodListing = `.format "1.0"

.method 0x06000001 "T::M()"
.locals a b
	ldc.i4.1
	stloc.1
	ldloc.1
	ret
	nop
.end
`

const badListing = `.format "1.0"

.method 0x06000002 "T::Bad()"
A:	nop
B:	nop
C:	nop
D:	ret
.try A C catch 0x01000001 B D
.end
`

func resetFlags() {
	LogLevelFlag = "info"
	LogJSONFlag = false
	TraceFlag = false
	TraceEndpointFlag = "localhost:4318"
	ReportDBFlag = ""
	optDeadFlag = false
	optNopsFlag = false
	optRepartitionFlag = false
	optLocalsFlag = false
	optOutputFlag = ""
	optJobsFlag = 0
	dumpColorFlag = false
	reportAllFlag = false
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(Cleanup)
	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func opNames(m *il.Method) []string {
	var names []string
	for _, r := range m.Body.Instrs {
		names = append(names, r.Op.Name)
	}
	return names
}

func TestOpt(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "good.il", goodListing)

	stdout, stderr, err := execute(t, "opt", path)
	require.NoError(t, err)

	f, err := asm.Parse("stdout", strings.NewReader(stdout))
	require.NoError(t, err)
	require.Len(t, f.Methods, 1)
	m := f.Methods[0]
	assert.Equal(t, []string{"ldc.i4.1", "stloc.0", "ldloc.0", "ret"}, opNames(m))
	require.Len(t, m.Body.Locals, 1)
	assert.Equal(t, "b", m.Body.Locals[0].Name)
	assert.Contains(t, stderr, "1 methods: 1 dead blocks, 0 no-op blocks, 1 locals removed")
	assert.Contains(t, stderr, "0 failed")
}

func TestOptSelectedReductions(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "good.il", goodListing)
	out := filepath.Join(dir, "out.il")

	stdout, _, err := execute(t, "opt", "--dead", "-o", out, path)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	f, err := asm.ParseFile(out)
	require.NoError(t, err)
	require.Len(t, f.Methods, 1)
	assert.Equal(t, []string{"ldc.i4.1", "stloc.1", "ldloc.1", "ret"}, opNames(f.Methods[0]))
	assert.Len(t, f.Methods[0].Body.Locals, 2)
}

func TestOptDirectoryAndReport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.il", goodListing)
	writeFile(t, dir, "b.il", badListing)
	writeFile(t, dir, "notes.txt", "not a listing")
	db := filepath.Join(t.TempDir(), "runs.db")

	stdout, stderr, err := execute(t, "opt", "--report-db", db, dir)
	require.NoError(t, err)
	assert.Contains(t, stderr, "1 failed")
	assert.Contains(t, stderr, "method not reduced")

	f, err := asm.Parse("stdout", strings.NewReader(stdout))
	require.NoError(t, err)
	require.Len(t, f.Methods, 2)
	// The failed method is written unchanged.
	assert.Equal(t, []string{"nop", "nop", "nop", "ret"}, opNames(f.Methods[1]))
	assert.Len(t, f.Methods[1].Body.Handlers, 1)
	Cleanup()

	stdout, _, err = execute(t, "report", "--report-db", db)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.il")+": method 06000002: T::Bad(): "+
		"IL_0001: catch region overlaps try region IL_0000-IL_0002\n", stdout)

	stdout, _, err = execute(t, "report", "--all", "--report-db", db)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, filepath.Join(dir, "a.il")+": method 06000001: T::M(): 1 dead, 0 no-op, 1 locals", lines[0])
}

func TestOptMissingFile(t *testing.T) {
	_, _, err := execute(t, "opt", filepath.Join(t.TempDir(), "missing.il"))
	assert.Error(t, err)
}

func TestReportRequiresDB(t *testing.T) {
	_, _, err := execute(t, "report")
	assert.EqualError(t, err, "--report-db is required")
}

func TestDump(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.il", goodListing)
	bad := writeFile(t, dir, "bad.il", badListing)

	stdout, _, err := execute(t, "dump", good, bad)
	require.NoError(t, err)
	assert.Contains(t, stdout, good+": method 06000001 T::M()\n")
	assert.Contains(t, stdout, "method 0 {\n")
	assert.Contains(t, stdout, "block 0:\n")
	assert.Contains(t, stdout, "block 1:\n")
	assert.Contains(t, stdout, bad+": method 06000002 T::Bad()\n")
	assert.Contains(t, stdout, "catch region overlaps try region")
	assert.NotContains(t, stdout, "\x1b[")
}

func TestDumpColor(t *testing.T) {
	path := writeFile(t, t.TempDir(), "good.il", goodListing)
	stdout, _, err := execute(t, "dump", "--color", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "\x1b[1m"+path)
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ilgraph version dev (listing format 1.0, reads >= 1.0, < 2.0)\n", stdout)
}
