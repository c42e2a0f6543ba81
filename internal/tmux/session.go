// Package tmux drives the tmux pane that hosts the game server console.
package tmux

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// bufSeq generates unique buffer names so concurrent SendLine calls never share a buffer.
var bufSeq atomic.Int64

// pasteSettle is how long the console gets to absorb a paste before Enter.
var pasteSettle = 100 * time.Millisecond

// targetPattern accepts session, session:window and session:window.pane targets,
// plus pane ids such as %3.
var targetPattern = regexp.MustCompile(`^(%[0-9]+|[a-zA-Z0-9_-]+(:[a-zA-Z0-9_-]+(\.[0-9]+)?)?)$`)

// ValidateTarget rejects pane targets tmux would resolve ambiguously.
func ValidateTarget(target string) error {
	if !targetPattern.MatchString(target) {
		return fmt.Errorf("invalid tmux target %q", target)
	}
	return nil
}

// SendLine pastes one console line into a pane and submits it with Enter.
// The text must not contain line breaks.
func SendLine(paneTarget, text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("console line contains a line break")
	}
	bufName := fmt.Sprintf("storebridge-cmd-%d", bufSeq.Add(1))

	cmd := exec.Command("tmux", "load-buffer", "-b", bufName, "-")
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux load-buffer: %w: %s", err, strings.TrimSpace(string(out)))
	}

	// -d deletes the buffer after pasting.
	if err := run("paste-buffer", "-b", bufName, "-d", "-t", paneTarget); err != nil {
		return err
	}
	time.Sleep(pasteSettle)

	return SendKeys(paneTarget, "Enter")
}

// PaneExists reports whether tmux can resolve the target.
func PaneExists(paneTarget string) bool {
	_, err := output("display-message", "-t", paneTarget, "-p", "#{pane_id}")
	return err == nil
}

// CapturePane captures pane content with -J, which joins wrapped lines.
// lastN specifies how many lines from the bottom to capture (0 = entire visible pane).
func CapturePane(paneTarget string, lastN int) (string, error) {
	args := []string{"capture-pane", "-p", "-J", "-t", paneTarget}
	if lastN > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lastN))
	}
	return output(args...)
}

func SendKeys(paneTarget string, keys ...string) error {
	args := make([]string, 0, 3+len(keys))
	args = append(args, "send-keys", "-t", paneTarget)
	args = append(args, keys...)
	return run(args...)
}

// GetPaneCurrentCommand returns the currently running command in a pane.
func GetPaneCurrentCommand(paneTarget string) (string, error) {
	out, err := output("display-message", "-t", paneTarget, "-p", "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ShellCommands are pane commands that mean the server is not running in the pane.
var ShellCommands = map[string]bool{
	"bash": true, "zsh": true, "fish": true,
	"sh": true, "dash": true, "tcsh": true, "csh": true,
}

func IsShellCommand(cmd string) bool {
	return ShellCommands[cmd]
}

// CheckConsole fails when the pane is gone or has dropped back to a shell,
// where a pasted command would run as a shell command.
func CheckConsole(paneTarget string) error {
	current, err := GetPaneCurrentCommand(paneTarget)
	if err != nil {
		return fmt.Errorf("pane %s unavailable: %w", paneTarget, err)
	}
	if IsShellCommand(current) {
		return fmt.Errorf("pane %s is running %s, not the server console", paneTarget, current)
	}
	return nil
}

func run(args ...string) error {
	cmd := exec.Command("tmux", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func output(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
