// Command aicupg builds, inspects and programs firmware upgrade images.
//
// It works on both ends of the upgrade protocol: "serve" runs the device
// side against a file-backed flash image, "send" drives a device over
// USB, HID or a serial port, and "burn" programs a flash image directly
// from a file or a bootcfg.txt directory.
//
// Logging uses glog; pass -logtostderr and -v=2 before the command name
// for per-chunk detail.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/golang/glog"
)

type tool struct {
	descr string
	main  func(cmd string, args []string)
}

var tools = map[string]tool{
	"burn":  {burnDescr, burnMain},
	"serve": {serveDescr, serveMain},
	"send":  {sendDescr, sendMain},
	"erase": {eraseDescr, eraseMain},
	"pack":  {packDescr, packMain},
	"info":  {infoDescr, infoMain},
	"dump":  {dumpDescr, dumpMain},
	"parts": {partsDescr, partsMain},
}

func printToolList() {
	names := make([]string, 0, len(tools))
	maxLen := 0
	for k := range tools {
		names = append(names, k)
		if maxLen < len(k) {
			maxLen = len(k)
		}
	}
	sort.Strings(names)

	uw := os.Stderr
	uw.WriteString("Usage:\n  aicupg [GLOG FLAGS] COMMAND [ARGUMENTS]\n\n")
	uw.WriteString("Available commands:\n")
	for _, name := range names {
		fmt.Fprintf(uw, "  %*s  %s\n", maxLen, name, tools[name].descr)
	}
}

func main() {
	flag.Usage = printToolList
	flag.Parse()
	defer glog.Flush()

	args := flag.Args()
	if len(args) == 0 || args[0] == "help" {
		printToolList()
		return
	}
	t, ok := tools[args[0]]
	if !ok {
		printToolList()
		os.Exit(1)
	}
	t.main(args[0], args[1:])
}
