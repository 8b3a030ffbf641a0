// Package capability holds the local collaborators the relay calls into:
// the system clipboard, the screenshot directory and the clipboard monitor.
package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

var ErrNoCommand = errors.New("no clipboard command configured")

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
}

// Command drives the clipboard through external programs: WriteArgs gets
// the text on stdin, ReadArgs prints the clipboard on stdout.
type Command struct {
	ReadArgs  []string
	WriteArgs []string
}

// NewCommand splits whitespace-separated command lines. Empty lines fall
// back to the platform defaults.
func NewCommand(readLine, writeLine string) *Command {
	def := DefaultCommand()
	c := &Command{ReadArgs: strings.Fields(readLine), WriteArgs: strings.Fields(writeLine)}
	if len(c.ReadArgs) == 0 {
		c.ReadArgs = def.ReadArgs
	}
	if len(c.WriteArgs) == 0 {
		c.WriteArgs = def.WriteArgs
	}
	return c
}

// DefaultCommand returns the usual clipboard tools for the running OS.
func DefaultCommand() *Command {
	switch runtime.GOOS {
	case "darwin":
		return &Command{ReadArgs: []string{"pbpaste"}, WriteArgs: []string{"pbcopy"}}
	case "windows":
		return &Command{
			ReadArgs:  []string{"powershell", "-NoProfile", "-Command", "Get-Clipboard"},
			WriteArgs: []string{"clip"},
		}
	default:
		return &Command{
			ReadArgs:  []string{"xclip", "-selection", "clipboard", "-o"},
			WriteArgs: []string{"xclip", "-selection", "clipboard"},
		}
	}
}

func (c *Command) Read(ctx context.Context) (string, error) {
	if len(c.ReadArgs) == 0 {
		return "", ErrNoCommand
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.ReadArgs[0], c.ReadArgs[1:]...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("reading clipboard with %s: %w: %s", c.ReadArgs[0], err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

func (c *Command) Write(ctx context.Context, text string) error {
	if len(c.WriteArgs) == 0 {
		return ErrNoCommand
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.WriteArgs[0], c.WriteArgs[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("writing clipboard with %s: %w: %s", c.WriteArgs[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Memory is an in-process clipboard for headless nodes and tests.
type Memory struct {
	mu     sync.Mutex
	text   string
	writes int
}

func (m *Memory) Read(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) Write(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	m.writes++
	return nil
}

// Writes returns how many times Write succeeded.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
