// Package main - точка входа progressionctl: запуск триггеров прогрессии
// из командной строки и ops-сервер с метриками и health-чеками.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/classhub/progression-engine/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
