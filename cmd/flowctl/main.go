// Command flowctl runs workflows against a remote execution engine and
// streams their progress to the terminal.
//
//	flowctl run pipeline.yaml other.json
//	flowctl exec pipeline.yaml
//	flowctl health --base-url http://engine:8080/api
package main

import (
	"fmt"
	"os"
)

func main() {
	a := newApp(os.LookupEnv)
	err := a.rootCmd().Execute()
	if terr := a.teardown(); terr != nil {
		fmt.Fprintln(os.Stderr, "flowctl:", terr)
	}
	if err != nil {
		os.Exit(1)
	}
}
