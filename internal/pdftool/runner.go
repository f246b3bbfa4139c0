package pdftool

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long a killed process may keep its output pipes
// open before Wait gives up on them.
const waitDelay = 5 * time.Second

// run executes argv under a deadline. The process is killed when the
// deadline passes and never outlives the caller.
func run(ctx context.Context, timeout time.Duration, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = waitDelay

	start := time.Now()
	out, err := cmd.CombinedOutput()
	slog.DebugContext(ctx, "ran pdf tool",
		"command", argv[0],
		"duration", time.Since(start),
	)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out after %s", argv[0], timeout)
		}
		return fmt.Errorf("%s failed: %w: %s", argv[0], err, outputTail(out))
	}
	return nil
}

// outputTail keeps error messages readable when a tool dumps pages of
// diagnostics.
func outputTail(out []byte) string {
	s := strings.TrimSpace(string(out))
	const max = 512
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
