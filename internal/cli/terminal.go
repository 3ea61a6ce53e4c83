package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const prompt = "> "

type lineReader interface {
	ReadLine() (string, error)
}

// Shell - интерактивный терминал с историей и автодополнением по Tab.
// Без TTY (ввод из pipe) строки читаются как есть, без редактирования.
type Shell struct {
	cli   *CLI
	lines lineReader
	out   io.Writer
	t     *term.Terminal
}

type readWriter struct {
	io.Reader
	io.Writer
}

// NewShell создает оболочку на term.Terminal поверх in/out
func NewShell(cli *CLI, in io.Reader, out io.Writer) *Shell {
	t := term.NewTerminal(readWriter{Reader: in, Writer: out}, prompt)
	s := &Shell{cli: cli, lines: t, out: t, t: t}
	t.AutoCompleteCallback = s.autoComplete
	// вывод команд идет через терминал, чтобы не ломать строку ввода
	cli.out = t
	return s
}

func newPlainShell(cli *CLI, in io.Reader, out io.Writer) *Shell {
	cli.out = out
	return &Shell{cli: cli, lines: &scannerReader{sc: bufio.NewScanner(in)}, out: out}
}

type scannerReader struct {
	sc *bufio.Scanner
}

func (r *scannerReader) ReadLine() (string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.sc.Text(), nil
}

// Output - writer, через который можно печатать асинхронные события
func (s *Shell) Output() io.Writer {
	return s.out
}

// RunStdin готовит оболочку на stdin. Для TTY терминал переводится в raw mode
// на время run.
func RunStdin(ctx context.Context, cli *CLI) (*Shell, func() error, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		s := newPlainShell(cli, os.Stdin, os.Stdout)
		return s, func() error { return s.Run(ctx) }, nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, err
	}

	s := NewShell(cli, os.Stdin, os.Stdout)
	if w, h, err := term.GetSize(fd); err == nil {
		s.t.SetSize(w, h)
	}

	run := func() error {
		defer term.Restore(fd, oldState)
		return s.Run(ctx)
	}
	return s, run, nil
}

// Run читает строки до exit, EOF или отмены ctx
func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, "Tab - автодополнение, exit - выход")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := s.lines.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.cancel()
				return nil
			}
			return err
		}

		command := strings.TrimSpace(line)
		switch command {
		case "":
			continue
		case "exit", "quit":
			s.cancel()
			return nil
		}

		if err := s.cli.Execute(strings.Fields(command)); err != nil {
			fmt.Fprintln(s.out, "Ошибка:", err)
		}
	}
}

func (s *Shell) cancel() {
	if s.cli.appCtx.CancelFunc != nil {
		s.cli.appCtx.CancelFunc()
	}
}

func (s *Shell) autoComplete(line string, pos int, key rune) (string, int, bool) {
	if key != '\t' {
		return "", 0, false
	}

	completions := getCompletions(s.cli.NewRootCommand(), line[:pos])
	switch len(completions) {
	case 0:
		return "", 0, false
	case 1:
		newLine := completeCommand(line[:pos], completions[0]) + " "
		return newLine, len(newLine), true
	default:
		// несколько вариантов: дополняем общий префикс и показываем варианты
		fmt.Fprintf(s.t, "\n%s\n", strings.Join(completions, "  "))
		newLine := completeCommand(line[:pos], commonPrefix(completions))
		return newLine, len(newLine), true
	}
}

// getCompletions возвращает возможные варианты автодополнения
func getCompletions(rootCmd *cobra.Command, input string) []string {
	if input == "" {
		// если ввод пустой, предлагаем все команды верхнего уровня
		return getMatchingCommands(rootCmd, "")
	}

	parts := strings.Fields(input)
	if strings.HasSuffix(input, " ") {
		parts = append(parts, "")
	}

	// если введена только часть команды
	if len(parts) == 1 {
		return getMatchingCommands(rootCmd, parts[0])
	}

	cmd, lastPart := findCobraCommand(rootCmd, parts)
	if cmd == nil {
		return nil
	}

	// если последний введенный символ - дефис, предлагаем флаги
	if strings.HasPrefix(lastPart, "-") {
		return getMatchingFlags(cmd, lastPart)
	}

	// значения флагов не дополняем
	if len(parts) >= 2 && strings.HasPrefix(parts[len(parts)-2], "-") {
		return nil
	}

	if len(cmd.Commands()) > 0 {
		return getMatchingCommands(cmd, lastPart)
	}
	return nil
}

// getMatchingCommands возвращает команды, начинающиеся с prefix
func getMatchingCommands(parentCmd *cobra.Command, prefix string) []string {
	var matches []string
	for _, cmd := range parentCmd.Commands() {
		if !cmd.Hidden && strings.HasPrefix(cmd.Name(), prefix) {
			matches = append(matches, cmd.Name())
		}
	}
	return matches
}

// getMatchingFlags возвращает флаги, начинающиеся с prefix
func getMatchingFlags(cmd *cobra.Command, prefix string) []string {
	var matches []string
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Shorthand != "" {
			shortFlag := "-" + flag.Shorthand
			if strings.HasPrefix(shortFlag, prefix) {
				matches = append(matches, shortFlag)
			}
		}

		fullFlag := "--" + flag.Name
		if strings.HasPrefix(fullFlag, prefix) {
			matches = append(matches, fullFlag)
		}
	})
	return matches
}

// findCobraCommand спускается по подкомандам, пока части совпадают с именами
func findCobraCommand(rootCmd *cobra.Command, parts []string) (*cobra.Command, string) {
	cmd := rootCmd

	for _, part := range parts[:len(parts)-1] {
		if strings.HasPrefix(part, "-") {
			break
		}

		var next *cobra.Command
		for _, subCmd := range cmd.Commands() {
			if subCmd.Name() == part {
				next = subCmd
				break
			}
		}
		if next == nil {
			break
		}
		cmd = next
	}

	return cmd, parts[len(parts)-1]
}

// completeCommand заменяет последнюю часть ввода выбранным вариантом
func completeCommand(input, completion string) string {
	if input == "" {
		return completion
	}

	if strings.HasSuffix(input, " ") {
		return input + completion
	}

	parts := strings.Fields(input)
	if len(parts) == 1 {
		return completion
	}
	return strings.Join(parts[:len(parts)-1], " ") + " " + completion
}

func commonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	prefix := values[0]
	for _, v := range values[1:] {
		for !strings.HasPrefix(v, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
