package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// LogBuild assembles a zerolog-backed Logger writing to a buffer, a file, or
// stdout.
type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func NewBuild() *LogBuild {
	return &LogBuild{level: zerolog.DebugLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

func (build *LogBuild) Level(l zerolog.Level) *LogBuild {
	build.level = l
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	writer := build.writer
	if writer == nil {
		writer = os.Stdout
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(writer).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

// Close closes the log file, if one was opened.
func (logData *LogData) Close() error {
	if logData.LogFile == nil {
		return nil
	}
	return logData.LogFile.Close()
}

// Zerolog adapts a zerolog.Logger. Args are interpreted as alternating
// key/value pairs like slog does; a trailing key without value is logged
// under "!BADKEY".
func Zerolog(zl zerolog.Logger) Logger {
	return zerologAdapter{zl: zl}
}

type zerologAdapter struct {
	zl zerolog.Logger
}

func (z zerologAdapter) Error(msg string, args ...any) { z.log(z.zl.Error(), msg, args) }
func (z zerologAdapter) Warn(msg string, args ...any)  { z.log(z.zl.Warn(), msg, args) }
func (z zerologAdapter) Info(msg string, args ...any)  { z.log(z.zl.Info(), msg, args) }
func (z zerologAdapter) Debug(msg string, args ...any) { z.log(z.zl.Debug(), msg, args) }

func (z zerologAdapter) log(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for len(args) > 0 {
		if len(args) == 1 {
			e = e.Interface("!BADKEY", args[0])
			break
		}
		key, ok := args[0].(string)
		if !ok {
			key = fmt.Sprint(args[0])
		}
		if err, isErr := args[1].(error); isErr {
			e = e.AnErr(key, err)
		} else {
			e = e.Interface(key, args[1])
		}
		args = args[2:]
	}
	e.Msg(msg)
}
