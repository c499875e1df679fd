// Package version хранит сведения о сборке checkout-сервиса,
// проставляемые через -ldflags при релизе.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, commit и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// String собирает строку для логов запуска и healthcheck-ответа.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
