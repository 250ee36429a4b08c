package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"reminderd/internal/transport"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig forwards log lines at or above MinLevel to the operator chat.
type ChatConfig struct {
	Enabled    bool
	Target     transport.ChatTarget
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./reminderd.log"

// Service owns the log outputs. Apply may be called at any time to
// reconfigure them; every Logger it produced picks up the change.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	chat *chatSink
}

// New builds the service and its root Logger. sender may be nil when no
// operator chat exists; chat output is then ignored.
func New(cfg Config, sender transport.Sender) (*Service, Logger) {
	s := &Service{}
	if sender != nil {
		s.chat = newChatSink(sender)
	}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{src: &s.root} }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	if s.chat != nil {
		s.chat.configure(cfg.Chat)
		if cfg.Chat.Enabled {
			if cfg.Chat.Target.IsZero() {
				fmt.Fprintln(os.Stderr, "logx: chat logging enabled without a chat target")
			}
			outs = append(outs, s.chat)
		}
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the chat worker and closes the log file. Loggers stay usable.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	chat := s.chat
	s.mu.Unlock()

	if chat != nil {
		chat.close()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}
