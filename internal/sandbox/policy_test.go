package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// =============================================================================
// SANDBOX TESTS
// =============================================================================

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(t.TempDir(),
		[]string{"ls", "cat", "echo"},
		[]string{"PATH", "HOME", "LANG"},
		[]string{"fmt", "strings"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return p
}

func TestResolveInsideRoot(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	sub := filepath.Join(p.Root(), "docs")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(sub, "note.txt")
	if err := os.WriteFile(file, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := p.Resolve("docs/note.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != file {
		t.Errorf("Resolve = %q, want %q", got, file)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	cases := []string{
		"../outside.txt",
		"docs/../../etc/passwd",
		"/etc/passwd",
		"..",
	}
	for _, raw := range cases {
		if _, err := p.Resolve(raw); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("Resolve(%q) err = %v, want ErrOutsideRoot", raw, err)
		}
	}
}

func TestResolveNonexistentLeaf(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	// Write targets do not exist yet; containment still checks.
	got, err := p.Resolve("new/dir/file.txt")
	if err != nil {
		t.Fatalf("Resolve new path: %v", err)
	}
	if !strings.HasPrefix(got, p.Root()) {
		t.Errorf("resolved %q outside root %q", got, p.Root())
	}

	if _, err := p.Resolve("new/../../escape.txt"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("nonexistent escape not rejected: %v", err)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on windows")
	}
	p := testPolicy(t)

	outside := t.TempDir()
	link := filepath.Join(p.Root(), "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Resolve("sneaky/secret.txt"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("symlink escape err = %v, want ErrOutsideRoot", err)
	}
}

func TestResolveRejectsCaseSibling(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	root := filepath.Join(base, "work")
	sibling := filepath.Join(base, "WORK")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(sibling, 0755); err != nil {
		t.Fatal(err)
	}
	if caseInsensitiveFS(base) {
		t.Skip("filesystem folds case; the sibling is the root itself")
	}
	if err := os.WriteFile(filepath.Join(sibling, "secret.txt"), []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewPolicy(root, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	// On a case-sensitive filesystem WORK is a different directory and
	// must stay outside the sandbox.
	if _, err := p.Resolve(filepath.Join(sibling, "secret.txt")); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("case sibling resolved inside root: %v", err)
	}
}

func TestCommandAllowed(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	if !p.CommandAllowed("ls") {
		t.Error("ls should be allowed")
	}
	for _, name := range []string{"rm", "curl", "/bin/ls", "bin\\ls", ""} {
		if p.CommandAllowed(name) {
			t.Errorf("%q should be denied", name)
		}
	}
}

func TestScrubEnv(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	environ := []string{
		"PATH=/usr/bin",
		"HOME=/home/u",
		"AWS_SECRET_ACCESS_KEY=shh",
		"LD_PRELOAD=/tmp/evil.so",
		"malformed",
	}
	got := p.ScrubEnv(environ)

	want := map[string]bool{"PATH=/usr/bin": true, "HOME=/home/u": true}
	if len(got) != len(want) {
		t.Fatalf("ScrubEnv = %v, want exactly %v", got, want)
	}
	for _, kv := range got {
		if !want[kv] {
			t.Errorf("ScrubEnv leaked %q", kv)
		}
	}
}

func TestValidateScript(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	ok := []string{
		`x := 21 * 2
println(x)`,
		`import "fmt"
func main() { fmt.Println(strings.ToUpper("hi")) }`,
		`import "strings"
func main() { _ = strings.Repeat("a", 3) }`,
		`import "fmt"
fmt.Println(6 * 7)`,
	}
	for _, src := range ok {
		if err := p.ValidateScript(src); err != nil {
			t.Errorf("valid script rejected: %v\n%s", err, src)
		}
	}

	bad := []string{
		`import "os"
func main() { os.Remove("/") }`,
		`import "os/exec"
func main() {}`,
		`go func() {}()`,
		`ch := make(chan int); ch <- 1`,
		`<-done`,
		`select {}`,
		`this is not go`,
	}
	for _, src := range bad {
		if err := p.ValidateScript(src); !errors.Is(err, ErrScriptDenied) {
			t.Errorf("bad script accepted (err=%v):\n%s", err, src)
		}
	}
}
