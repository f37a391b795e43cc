// Command isrvet reports blocking kernel calls made from interrupt handlers.
//
//	isrvet ./...
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"omibyte.io/rvrtos/analysis/isrblock"
)

func main() {
	singlechecker.Main(isrblock.Analyzer)
}
