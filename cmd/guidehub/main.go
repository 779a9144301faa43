// Command guidehub はガイド共有サイトのAPIサーバー、ワーカー、マイグレーションを起動する。
//
//	guidehub [serve|worker|migrate [up|down|version]|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/guidehub/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
