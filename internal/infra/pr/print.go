// Package pr — единая точка вывода в консоль при активной интерактивной строке.
// Пока readline ждёт ввод, прямая печать в os.Stdout рвёт строку приглашения,
// поэтому всё (включая логгер через logger.SetWriters) пишет через writer'ы
// этого пакета. Мьютекс защищает только смену ссылок на writer'ы; сами записи
// сериализуются на стороне readline.

package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
)

var (
	// rl — активный инстанс readline. Появляется после Init(), до этого nil.
	rl *readline.Instance
	// out — текущий поток стандартного вывода. После Init() — rl.Stdout().
	out io.Writer = os.Stdout
	// errOut — поток вывода ошибок. После Init() — rl.Stderr().
	errOut io.Writer = os.Stderr
	// mu защищает замену ссылок на writer'ы и cancelableIn.
	mu sync.Mutex

	// cancelableIn — stdin, который можно закрыть, чтобы прервать ожидание ввода.
	cancelableIn interface{ Close() error }
)

// Init настраивает readline и перенаправляет потоки вывода на его stdout/stderr.
// Stdin отменяемый: закрытие даёт io.EOF в Readline() при shutdown.
// Повторный вызов не предусмотрен.
func Init() error {
	cs := readline.NewCancelableStdin(os.Stdin)
	newRl, err := readline.NewEx(&readline.Config{Stdin: cs})
	if err != nil {
		_ = cs.Close()
		return err
	}
	rl = newRl

	mu.Lock()
	cancelableIn = cs
	out = rl.Stdout()
	errOut = rl.Stderr()
	mu.Unlock()

	return nil
}

// InterruptReadline закрывает cancelable stdin: Readline() получает io.EOF и возвращается.
// Идемпотентна, повторное закрытие реализация игнорирует.
func InterruptReadline() {
	if cancelableIn != nil {
		_ = cancelableIn.Close()
	}
}

// SetPrompt задаёт строку приглашения. До Init() — no-op.
func SetPrompt(prompt string) {
	if rl != nil {
		rl.SetPrompt(prompt)
	}
}

// Rl возвращает текущий инстанс readline (nil до Init()).
func Rl() *readline.Instance {
	return rl
}

// Stdout возвращает текущий writer стандартного вывода.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr возвращает текущий writer ошибок.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// Println печатает значения в Stdout с переводом строки. Работает и до Init().
func Println(a ...any) {
	fmt.Fprintln(Stdout(), a...)
}

// Printf форматирует строку и печатает её в Stdout.
func Printf(format string, a ...any) {
	fmt.Fprintf(Stdout(), format, a...)
}

// ErrPrintln печатает значения в Stderr с переводом строки.
func ErrPrintln(a ...any) {
	fmt.Fprintln(Stderr(), a...)
}

// ErrPrintf форматирует строку и печатает её в Stderr.
func ErrPrintf(format string, a ...any) {
	fmt.Fprintf(Stderr(), format, a...)
}

// PP pretty-печатает значение в Stdout. Для отладочных дампов структур,
// в горячих участках не использовать из-за аллокаций.
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}
