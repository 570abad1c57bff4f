package logger

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

type stringer interface {
	String() string
}

type logPair struct {
	logFn func(...any)
	obj   string
	msg   string
}

const (
	logSize   = 1000
	objLength = 24
)

var logCh = make(chan logPair, logSize)

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

func init() {
	go func() {
		sb := new(bytes.Buffer)
		for logPair := range logCh {
			if len(logPair.obj) > objLength {
				logPair.obj = logPair.obj[:objLength]
			}
			fmt.Fprintf(sb, "|%24s|%-100s", logPair.obj, logPair.msg)
			logPair.logFn(sb.String())
			sb.Reset()
		}
	}()
}

func objToString(obj any) (objStr string) {
	if obj == nil {
		objStr = "NIL"
	} else if stringerObj, ok := obj.(stringer); ok {
		objStr = stringerObj.String()
	} else if objStr, ok = obj.(string); ok {
	} else {
		objStr = reflect.TypeOf(obj).String()
	}
	return
}

// Init configures the level and the text formatter of the process wide logger.
func Init(lvl logrus.Level) {
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		PadLevelText:    true,
		TimestampFormat: "2006/01/02 15:04:05.000",
	})
}

func send(lvl logrus.Level, logFn func(...any), object any, msg func() string) {
	if logrus.GetLevel() < lvl {
		return
	}
	logCh <- logPair{
		logFn: logFn,
		obj:   objToString(object),
		msg:   msg(),
	}
}

func Trace(object any, message string) {
	send(logrus.TraceLevel, logrus.Trace, object, func() string { return message })
}

func Tracef(object any, message string, args ...any) {
	send(logrus.TraceLevel, logrus.Trace, object, func() string { return fmt.Sprintf(message, args...) })
}

func Debug(object any, message string) {
	send(logrus.DebugLevel, logrus.Debug, object, func() string { return message })
}

func Debugf(object any, message string, args ...any) {
	send(logrus.DebugLevel, logrus.Debug, object, func() string { return fmt.Sprintf(message, args...) })
}

func Info(object any, message string) {
	send(logrus.InfoLevel, logrus.Info, object, func() string { return message })
}

func Infof(object any, message string, args ...any) {
	send(logrus.InfoLevel, logrus.Info, object, func() string { return fmt.Sprintf(message, args...) })
}

func Warning(object any, message string) {
	send(logrus.WarnLevel, logrus.Warning, object, func() string { return message })
}

func Warningf(object any, message string, args ...any) {
	send(logrus.WarnLevel, logrus.Warning, object, func() string { return fmt.Sprintf(message, args...) })
}

func Error(object any, message string) {
	send(logrus.ErrorLevel, logrus.Error, object, func() string { return message })
}

func Errorf(object any, message string, args ...any) {
	send(logrus.ErrorLevel, logrus.Error, object, func() string { return fmt.Sprintf(message, args...) })
}

// Dump pretty-prints values at debug level, one line per field.
func Dump(object any, title string, values ...any) {
	send(logrus.DebugLevel, logrus.Debug, object, func() string {
		return title + "\n" + dumpConfig.Sdump(values...)
	})
}
