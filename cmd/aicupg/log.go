package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"
)

// glogLogger adapts glog to the Logger interface of the library packages.
type glogLogger struct{}

func (glogLogger) Debug(msg string, keysAndValues ...interface{}) {
	if glog.V(2) {
		glog.InfoDepth(1, format(msg, keysAndValues))
	}
}

func (glogLogger) Info(msg string, keysAndValues ...interface{}) {
	glog.InfoDepth(1, format(msg, keysAndValues))
}

func (glogLogger) Error(msg string, keysAndValues ...interface{}) {
	glog.ErrorDepth(1, format(msg, keysAndValues))
}

// format renders msg followed by key=value pairs.
func format(msg string, keysAndValues []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, "%v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, "%v=?", keysAndValues[i])
		}
	}
	return b.String()
}

// fatalErr exits with a message naming the failed step.
func fatalErr(what string, err error) {
	if err == nil {
		return
	}
	if what != "" {
		glog.Exitf("%s: %v", what, err)
	}
	glog.Exit(err)
}

// usageErr prints msg and the usage of the command, then exits.
func usageErr(usage func(), msg string) {
	fmt.Fprintln(os.Stderr, msg)
	usage()
	os.Exit(2)
}
