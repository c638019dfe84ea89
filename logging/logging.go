package logging

import (
	"fmt"
	"log"

	"github.com/fatih/color"
	"github.com/innonova/mimiri-client-sub002/common"
	mlog "github.com/innonova/mimiri-client-sub002/log"
)

var (
	HiWhite = color.New(color.FgHiWhite).SprintFunc()
	Yellow  = color.New(color.FgYellow).SprintFunc()
	Red     = color.New(color.FgRed).SprintFunc()
)

// Logger prefixes messages with the component name. Debugf output is only
// shown when Debug is set, warnings and errors are always printed.
type Logger struct {
	Debug     bool
	Component string
	MaxChars  int
}

func New(debug bool, component string) Logger {
	return Logger{
		Debug:     debug,
		Component: component,
		MaxChars:  common.MaxDebugChars,
	}
}

func (l Logger) prefix() string {
	if l.Component == "" {
		return common.LibName
	}

	return common.LibName + " | " + l.Component
}

func (l Logger) Debugf(format string, args ...interface{}) {
	maxChars := l.MaxChars
	if maxChars == 0 {
		maxChars = common.MaxDebugChars
	}

	msg := fmt.Sprintf(format, args...)
	if l.Component != "" {
		msg = l.Component + " | " + msg
	}

	mlog.DebugPrint(l.Debug, msg, maxChars)
}

func (l Logger) Warnf(format string, args ...interface{}) {
	log.Println(HiWhite(l.prefix()), "|", Yellow("warning:"), mlog.Truncate(fmt.Sprintf(format, args...), l.MaxChars))
}

func (l Logger) Errorf(format string, args ...interface{}) {
	log.Println(HiWhite(l.prefix()), "|", Red("error:"), mlog.Truncate(fmt.Sprintf(format, args...), l.MaxChars))
}
