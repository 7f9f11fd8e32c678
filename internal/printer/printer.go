// Package printer - цветной вывод CLI (roombot check/migrate). Логи бота
// идут через zap, сюда попадает только то, что читает человек.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	// Out и Err подменяются в тестах.
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Success - зелёное сообщение с галочкой.
func Success(format string, a ...any) {
	green.Fprintf(Out, "✓ %s", fmt.Sprintf(format, a...))
}

func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning - жёлтое сообщение с префиксом.
func Warning(format string, a ...any) {
	yellow.Fprintf(Out, "⚠️  %s", fmt.Sprintf(format, a...))
}

func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Error печатает заголовок, пояснение и подсказки в stderr и возвращает
// короткую ошибку для cobra (SilenceErrors).
func Error(title, explanation string, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}
	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(Err, "  %d. %s\n", i+1, s)
		}
	}
	return fmt.Errorf("%s", title)
}

// Table печатает выровненную таблицу; заголовок жирным.
func Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < min(len(row), len(widths)); i++ {
			widths[i] = max(widths[i], len([]rune(row[i])))
		}
	}
	line := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			var c string
			if i < len(cells) {
				c = cells[i]
			}
			parts[i] = c + strings.Repeat(" ", widths[i]-len([]rune(c)))
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}
	bold.Fprintln(Out, line(headers))
	for _, row := range rows {
		fmt.Fprintln(Out, line(row))
	}
}
