package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"

	"metricdrop/pkg/errors"
)

var (
	// Output receives everything the package prints.
	Output io.Writer = os.Stdout

	supportsColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	ColorSuccess  = colorFunc(ansi.Green)
	ColorError    = colorFunc(ansi.Red)
	ColorWarning  = colorFunc(ansi.Yellow)
	ColorInfo     = colorFunc(ansi.Cyan)
	ColorProgress = colorFunc(ansi.Blue)
	ColorBold     = colorFunc("default+b")
	ColorDim      = colorFunc("default+h")
)

// colorFunc returns a function that colors text if supported
func colorFunc(color string) func(string) string {
	return func(text string) string {
		if supportsColor {
			return ansi.Color(text, color)
		}
		return text
	}
}

// DisableColor turns colored output off, e.g. for --no-color.
func DisableColor() {
	supportsColor = false
	disableTableColor()
}

func printf(format string, args ...interface{}) {
	fmt.Fprintf(Output, format, args...)
}

// ShowHeader displays a formatted header
func ShowHeader(title string) {
	width := 50
	padding := (width - len(title) - 2) / 2
	if padding < 0 {
		padding = 0
	}
	right := width - 2 - padding - len(title)
	if right < 0 {
		right = 0
	}

	printf("\n+%s+\n", strings.Repeat("-", width-2))
	printf("|%s%s%s|\n", strings.Repeat(" ", padding), ColorBold(title), strings.Repeat(" ", right))
	printf("+%s+\n", strings.Repeat("-", width-2))
}

// ShowError displays an error. Application errors show their code, context and
// suggestions; anything else falls back to a message-based tip.
func ShowError(err error) {
	if err == nil {
		return
	}

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		printf("\n%s %s\n", ColorError("ERROR ["+string(appErr.Code)+"]:"), appErr.Message)
		if appErr.Cause != nil {
			printf("  %s\n", ColorDim(appErr.Cause.Error()))
		}
		for _, key := range sortedContextKeys(appErr.Context) {
			printf("  %s %v\n", ColorDim(key+":"), appErr.Context[key])
		}
		for _, s := range appErr.Suggestions {
			printf("  %s %s\n", ColorInfo("TIP:"), s)
		}
		return
	}

	printf("\n%s\n", ColorError("ERROR:"))
	for i, line := range strings.Split(err.Error(), "\n") {
		if i == 0 {
			printf("  %s\n", line)
		} else {
			printf("  %s\n", ColorDim(line))
		}
	}
	if suggestion := getSuggestion(err.Error()); suggestion != "" {
		printf("\n  %s %s\n", ColorInfo("TIP:"), suggestion)
	}
}

// ShowSuccess displays a success message
func ShowSuccess(message string) {
	printf("%s %s\n", ColorSuccess("✓"), message)
}

// ShowFailure displays a failure line
func ShowFailure(message string) {
	printf("%s %s\n", ColorError("✗"), message)
}

// ShowWarning displays a warning message
func ShowWarning(message string) {
	printf("%s %s\n", ColorWarning("WARNING:"), ColorWarning(message))
}

// ShowInfo displays an info message
func ShowInfo(message string) {
	printf("%s %s\n", ColorInfo("INFO:"), message)
}

// PrintSection prints a section header
func PrintSection(title string) {
	printf("\n%s %s\n", ColorBold("▶"), ColorBold(title))
	printf("%s\n", strings.Repeat("─", 50))
}

// PrintKeyValue prints a key-value pair in a formatted way
func PrintKeyValue(key, value string) {
	printf("  %-20s %s\n", ColorDim(key+":"), value)
}

func sortedContextKeys(ctx map[string]interface{}) []string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// getSuggestion returns helpful suggestions based on error messages
func getSuggestion(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "invalid access token"), strings.Contains(lower, "unauthorized"):
		return "Check the warehouse token or run 'metricdrop auth login'"
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
		return "Verify the warehouse host and network connectivity"
	case strings.Contains(lower, "syntax error"), strings.Contains(lower, "parse_syntax_error"):
		return "Review the generated SQL with 'metricdrop deploy --dry-run'"
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "insufficient privileges"):
		return "Ensure the principal can create views in the target schema"
	default:
		return ""
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(seconds float64) string {
	switch {
	case seconds < 1:
		return fmt.Sprintf("%dms", int(seconds*1000))
	case seconds < 60:
		return fmt.Sprintf("%.1fs", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm%ds", int(seconds)/60, int(seconds)%60)
	default:
		return fmt.Sprintf("%dh%dm", int(seconds)/3600, (int(seconds)%3600)/60)
	}
}
