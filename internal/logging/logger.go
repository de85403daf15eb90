package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	OFF
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case OFF:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации ("debug", "WARN", ...).
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "OFF", "NONE":
		return OFF, nil
	}
	return INFO, fmt.Errorf("неизвестный уровень логирования %q", s)
}

// Interface - то, что получают компоненты ядра вместо глобального логгера.
type Interface interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Options задаёт куда и с каким уровнем пишет логгер.
type Options struct {
	Dir             string   // Каталог для файла логов; пусто - без файла
	ConsoleLevel    LogLevel // Минимальный уровень для консоли
	FileLevel       LogLevel // Минимальный уровень для файла
	Console         io.Writer
	DisableConsole  bool
	TimestampFormat string
}

// DefaultOptions: консоль INFO+, файл пишет всё.
func DefaultOptions() Options {
	return Options{
		ConsoleLevel:    INFO,
		FileLevel:       TRACE,
		TimestampFormat: "2006-01-02_15-04-05",
	}
}

// Logger представляет систему логирования одного компонента
type Logger struct {
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
	mu              sync.Mutex
}

// New создаёт логгер компонента. Если задан opts.Dir, дополнительно
// открывается файл <dir>/<component>_<timestamp>.log.
func New(component string, opts Options) (*Logger, error) {
	l := &Logger{
		component:       component,
		minConsoleLevel: opts.ConsoleLevel,
		minFileLevel:    opts.FileLevel,
	}

	if !opts.DisableConsole {
		out := opts.Console
		if out == nil {
			out = os.Stdout
		}
		l.consoleLogger = log.New(out, "", log.LstdFlags)
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории %s: %w", opts.Dir, err)
		}

		format := opts.TimestampFormat
		if format == "" {
			format = "2006-01-02_15-04-05"
		}
		filename := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", component, time.Now().Format(format)))

		file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
		}
		l.file = file
		l.fileLogger = log.New(file, "", log.LstdFlags)
	}

	return l, nil
}

// Component возвращает имя компонента
func (l *Logger) Component() string {
	return l.component
}

// SetLevels меняет пороги консоли и файла
func (l *Logger) SetLevels(console, file LogLevel) {
	l.mu.Lock()
	l.minConsoleLevel = console
	l.minFileLevel = file
	l.mu.Unlock()
}

// Close закрывает файл логов
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

func (l *Logger) Tracef(format string, args ...interface{}) { l.logMessage(TRACE, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.logMessage(DEBUG, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logMessage(INFO, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logMessage(WARN, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logMessage(ERROR, format, args...) }

// logMessage внутренняя функция для логирования
func (l *Logger) logMessage(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	writeFile := l.fileLogger != nil && level >= l.minFileLevel
	writeConsole := l.consoleLogger != nil && level >= l.minConsoleLevel
	if !writeFile && !writeConsole {
		return
	}

	message := fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))

	if writeFile {
		l.fileLogger.Println(message)
	}
	if writeConsole {
		l.consoleLogger.Println(message)
	}
}

type nopLogger struct{}

func (nopLogger) Tracef(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Nop возвращает логгер, который ничего не пишет
func Nop() Interface { return nopLogger{} }

// OrNop подставляет Nop вместо nil
func OrNop(l Interface) Interface {
	if l == nil {
		return Nop()
	}
	return l
}

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogPayloadError логирует ошибку разбора входящих данных вместе с дампом
func LogPayloadError(l Interface, source string, err error, data []byte) {
	l.Errorf("Ошибка разбора данных от %s: %v", source, err)
	if len(data) > 0 {
		l.Errorf("Raw data (%d bytes):\n%s", len(data), HexDump(data))
	}
}
