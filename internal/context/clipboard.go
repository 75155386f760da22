// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// =============================================================================
// CLIPBOARD
// =============================================================================

// ErrClipboardUnavailable is returned when no clipboard tool can be found
// or the read fails.
var ErrClipboardUnavailable = errors.New("clipboard unavailable")

// Clipboard reads the system clipboard. The resolver takes this as an
// interface so tests can substitute a fake.
type Clipboard interface {
	// ReadText returns the current clipboard text, or "" when the
	// clipboard holds no text.
	ReadText() (string, error)
}

// clipboardTimeout bounds the external clipboard command.
const clipboardTimeout = 5 * time.Second

// SystemClipboard shells out to the platform clipboard tool.
type SystemClipboard struct{}

// ReadText reads the clipboard via xclip, xsel, pbpaste, or powershell,
// whichever is available.
func (SystemClipboard) ReadText() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), clipboardTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if _, err := exec.LookPath("xclip"); err == nil {
		cmd = exec.CommandContext(ctx, "xclip", "-selection", "clipboard", "-o")
	} else if _, err := exec.LookPath("xsel"); err == nil {
		cmd = exec.CommandContext(ctx, "xsel", "--clipboard", "--output")
	} else if _, err := exec.LookPath("pbpaste"); err == nil {
		cmd = exec.CommandContext(ctx, "pbpaste")
	} else if _, err := exec.LookPath("powershell.exe"); err == nil {
		cmd = exec.CommandContext(ctx, "powershell.exe", "-command", "Get-Clipboard")
	} else {
		return "", ErrClipboardUnavailable
	}

	output, err := cmd.Output()
	if err != nil {
		// xclip exits non-zero on an empty clipboard; treat that as empty
		// text rather than a failure.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", nil
		}
		return "", ErrClipboardUnavailable
	}

	return string(output), nil
}
