// Package pr — тонкая обёртка для унифицированного консольного вывода.
// Сервис работает как headless-демон, поэтому интерактивного ввода здесь нет:
// пакет даёт единые функции печати для обычного и диагностического вывода
// плюс pretty-печать структур (kr/pretty) для отладки.
// Конкурентность: мьютекс защищает только смену целевых writer'ов; сами записи
// в writer не сериализуются здесь.

package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kr/pretty"
)

var (
	// out — текущий поток стандартного вывода. По умолчанию os.Stdout.
	out io.Writer = os.Stdout
	// errOut — поток вывода ошибок. По умолчанию os.Stderr.
	errOut io.Writer = os.Stderr
	// mu защищает замену ссылок на writer'ы. Не сериализует сами операции записи.
	mu sync.Mutex
)

// SetOutput переназначает целевые writer'ы. Полезно в тестах для перехвата вывода.
// nil-аргументы игнорируются.
func SetOutput(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if stdout != nil {
		out = stdout
	}
	if stderr != nil {
		errOut = stderr
	}
}

// Stdout возвращает текущий writer стандартного вывода. Блокировка защищает только чтение ссылки.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr возвращает текущий writer ошибок. Аналогично Stdout: защита только на чтение ссылки.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// Print печатает значения в Stdout без перевода строки.
func Print(a ...any) {
	fmt.Fprint(Stdout(), a...)
}

// Println печатает значения в Stdout и добавляет перевод строки.
func Println(a ...any) {
	fmt.Fprintln(Stdout(), a...)
}

// Printf форматирует строку и печатает её в Stdout.
func Printf(format string, a ...any) {
	fmt.Fprintf(Stdout(), format, a...)
}

// ErrPrint печатает значения в Stderr без перевода строки.
func ErrPrint(a ...any) {
	fmt.Fprint(Stderr(), a...)
}

// ErrPrintln печатает значения в Stderr и добавляет перевод строки.
func ErrPrintln(a ...any) {
	fmt.Fprintln(Stderr(), a...)
}

// ErrPrintf форматирует строку и печатает её в Stderr.
func ErrPrintf(format string, a ...any) {
	fmt.Fprintf(Stderr(), format, a...)
}

// PP pretty-печатает значение в Stdout. Удобно для отладки; не используйте в горячих участках из-за аллокаций.
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}

// Pf возвращает pretty-строку значения. Полезно для логов и тестов; помните про аллокации.
func Pf(v any) string {
	return fmt.Sprintf("%# v\n", pretty.Formatter(v))
}
