// Command gensizeclass computes a size-class table with
// internal/sizeclass's Compute and emits it as a literal Go source
// file, the same way the real toolchain's mksizeclasses.go generates
// runtime/sizeclasses.go instead of computing the table at every
// process startup.
//
//go:generate go run . -out ../../internal/sizeclass/generated.go -max-size 32768 -align 8 -page-size 8192
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/tools/imports"

	"github.com/flowstash/centralfree"
	"github.com/flowstash/centralfree/internal/sizeclass"
)

func main() {
	var (
		out      = flag.String("out", "", "output file path (required)")
		maxSize  = flag.Uint64("max-size", 32768, "largest small-object size class, in bytes")
		align    = flag.Uint64("align", 8, "alignment in bytes")
		pageSize = flag.Uint64("page-size", 8192, "page heap granularity, in bytes")
	)
	flag.Parse()
	if *out == "" {
		log.Fatal("gensizeclass: -out is required")
	}

	table := sizeclass.Compute(uintptr(*maxSize), uintptr(*align), uintptr(*pageSize))

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "// Code generated by cmd/gensizeclass. DO NOT EDIT.")
	fmt.Fprintln(&buf, "")
	fmt.Fprintln(&buf, "package sizeclass")
	fmt.Fprintln(&buf, "")
	fmt.Fprintln(&buf, "// Generated is the size-class table computed for the parameters")
	fmt.Fprintf(&buf, "// max-size=%d align=%d page-size=%d.\n", *maxSize, *align, *pageSize)
	fmt.Fprintln(&buf, "var Generated = []Class{")
	for i := 0; i < table.Len(); i++ {
		sc := indexClass(table, i)
		fmt.Fprintf(&buf, "\t{Size: %d, AllocNPages: %d},\n", sc.Size, sc.AllocNPages)
	}
	fmt.Fprintln(&buf, "}")

	formatted, err := imports.Process(*out, buf.Bytes(), nil)
	if err != nil {
		log.Fatalf("gensizeclass: formatting output: %v", err)
	}
	if err := os.WriteFile(*out, formatted, 0o644); err != nil {
		log.Fatalf("gensizeclass: writing %s: %v", *out, err)
	}
}

// indexClass re-derives the i'th Class from Table's exported accessors
// since Table keeps its backing slice unexported.
func indexClass(t *sizeclass.Table, i int) sizeclass.Class {
	sc := centralfree.SizeClass(i)
	return sizeclass.Class{Size: t.Size(sc), AllocNPages: t.AllocNPages(sc)}
}
