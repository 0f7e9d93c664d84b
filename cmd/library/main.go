// Command library は蔵書管理APIのエントリーポイント。
//
//	library [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/HridoyExe/library-management/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "library: %v\n", err)
		os.Exit(1)
	}
}
