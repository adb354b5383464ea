// Command alumni は卒業生ディレクトリのAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	alumni [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/alumni/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "alumni: %v\n", err)
		os.Exit(1)
	}
}
