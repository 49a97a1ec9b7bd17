package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	// Telegram mirrors warnings and errors into the ops chat.
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec float64
}

// Service owns the log sinks. Apply swaps them at runtime; loggers handed
// out by New pick the change up on their next line.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	tg   *telegramSink
}

// New builds the service and applies cfg. sender may be nil, in which case
// the Telegram sink stays off whatever cfg says.
func New(cfg Config, sender Sender) (*Service, Logger) {
	s := &Service{}
	if sender != nil {
		s.tg = newTelegramSink(sender)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// SetTelegramTarget points the Telegram sink at a chat. A zero chat id
// disables forwarding until a target is set again.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	if s == nil || s.tg == nil {
		return
	}
	s.tg.setTarget(chatID, threadID)
}

// Apply rebuilds the root logger from cfg. A file that cannot be opened is
// reported on stderr and skipped; the previous file stays closed.
func (s *Service) Apply(cfg Config) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	level := parseLevel(cfg.Level, zerolog.InfoLevel)
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled && cfg.File.Path != "" {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			writers = append(writers, f)
		}
	}

	if s.tg != nil {
		s.tg.configure(cfg.Telegram)
		if cfg.Telegram.Enabled {
			writers = append(writers, s.tg)
		}
	}

	var zl zerolog.Logger
	if len(writers) == 0 {
		zl = zerolog.Nop()
	} else {
		zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	}
	s.root.Store(&zl)
}

// Close stops the Telegram worker and closes the log file. Loggers keep
// working afterwards but write nowhere.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	nop := zerolog.Nop()
	s.root.Store(&nop)
	if s.tg != nil {
		s.tg.close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("log dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log file %s: %w", path, err)
	}
	return f, nil
}
