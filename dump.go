package mealvoice

import (
	"fmt"
	"io"
	"runtime"

	"github.com/davecgh/go-spew/spew"
)

var dumpConfig = spew.ConfigState{Indent: "  ", SortKeys: true, DisableMethods: true}

// Dump writes a deep dump of v to w, prefixed with the caller's location.
// Used by the CLI to inspect reconciled food items.
func Dump(w io.Writer, v ...any) {
	_, file, line, _ := runtime.Caller(1)
	fmt.Fprintf(w, "%s:%d:\n", file, line)
	dumpConfig.Fdump(w, v...)
}
