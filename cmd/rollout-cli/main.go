// rollout — командная строка для сервера развёртываний.
//
// Использование:
//
//	rollout [--api-url URL] [--user NAME] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	template  Шаблоны развёртываний
//	deploy    Запуски и их логи
//	schedule  Расписания
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/shaiso/Rollout/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		// Упавшее развёртывание уже описано в выводе логов
		if errors.Is(err, cli.ErrDeploymentFailed) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
