// Command inspect dumps raw records from a store directory (server DB or
// client profile). Operator/debug tool; the DB must not be open elsewhere.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/pebble"
)

func main() {
	var (
		path   string
		prefix string
		keys   bool
	)
	flag.StringVar(&path, "path", "", "store directory to inspect")
	flag.StringVar(&prefix, "prefix", "", "only dump keys with this prefix (e.g. user:, thread:, meta:)")
	flag.BoolVar(&keys, "keys", false, "print keys only")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}

	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer db.Close()

	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = []byte(prefix + "\xff")
	}
	iter, err := db.NewIter(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iterator: %v\n", err)
		os.Exit(1)
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
		if keys {
			fmt.Println(string(iter.Key()))
			continue
		}
		var pretty strings.Builder
		var buf json.RawMessage = append([]byte(nil), iter.Value()...)
		ind, err := json.MarshalIndent(buf, "  ", "  ")
		if err != nil {
			pretty.WriteString(string(iter.Value()))
		} else {
			pretty.Write(ind)
		}
		fmt.Printf("%s\n  %s\n", string(iter.Key()), pretty.String())
	}
	if err := iter.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "iterate: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d records\n", n)
}
