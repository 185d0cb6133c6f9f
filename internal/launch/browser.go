package launch

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

var ErrNoOpener = errors.New("launch: no browser opener found")

// Browser opens URLs with Executable, or with the platform opener when
// Executable is empty.
type Browser struct {
	Executable string

	// lookPath and start are replaced in tests.
	lookPath func(string) (string, error)
	start    func(*exec.Cmd) error
}

func NewBrowser(executable string) *Browser {
	return &Browser{Executable: executable}
}

// Open starts the browser and does not wait for it to exit.
func (b *Browser) Open(url string) error {
	cmd, err := b.command(url)
	if err != nil {
		return err
	}
	start := b.start
	if start == nil {
		start = func(cmd *exec.Cmd) error { return cmd.Start() }
	}
	if err := start(cmd); err != nil {
		return fmt.Errorf("launch: start %s: %w", cmd.Path, err)
	}
	if cmd.Process != nil {
		// Reap the opener so it does not linger as a zombie.
		go func() { _ = cmd.Wait() }()
	}
	return nil
}

func (b *Browser) command(url string) (*exec.Cmd, error) {
	lookPath := b.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	if b.Executable != "" {
		path, err := lookPath(b.Executable)
		if err != nil {
			return nil, fmt.Errorf("launch: browser %q: %w", b.Executable, err)
		}
		return exec.Command(path, url), nil
	}

	for _, candidate := range openers(runtime.GOOS) {
		path, err := lookPath(candidate[0])
		if err != nil {
			continue
		}
		args := append(append([]string(nil), candidate[1:]...), url)
		return exec.Command(path, args...), nil
	}
	return nil, ErrNoOpener
}

// openers lists platform openers in preference order; each entry is a
// command followed by fixed arguments.
func openers(goos string) [][]string {
	switch goos {
	case "darwin":
		return [][]string{{"open"}}
	case "windows":
		return [][]string{{"cmd", "/c", "start", ""}}
	default:
		return [][]string{{"xdg-open"}, {"x-www-browser"}, {"sensible-browser"}}
	}
}
