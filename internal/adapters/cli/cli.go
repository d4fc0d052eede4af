// Package cli — локальная консоль управления репликацией. Команды читаются
// из readline и уходят в тот же текстовый роутер, что обслуживает админ-бота,
// поэтому синтаксис и ответы совпадают. Start/Stop идемпотентны и корректно
// встраиваются в жизненный цикл приложения.
package cli

import (
	"context"
	"strings"
	"sync"

	"github.com/sunil55999/Luffy/internal/domain/commands"
	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/infra/pr"
)

// Service — интерактивная консоль поверх роутера команд.
type Service struct {
	router  *commands.Router
	stopApp context.CancelFunc

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт консоль. stopApp — общая остановка приложения,
// вызывается командой exit и Ctrl-C на пустой строке.
func NewService(router *commands.Router, stopApp context.CancelFunc) *Service {
	return &Service{router: router, stopApp: stopApp}
}

// Start запускает цикл чтения команд в отдельной горутине. Идемпотентен.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop прерывает readline и дожидается завершения цикла. Идемпотентен.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл консоли: приглашение, обработчики клавиш и построчное
// чтение команд до отмены контекста либо EOF.
func (s *Service) run(ctx context.Context) {
	rl := pr.Rl()
	if rl == nil {
		logger.Warnf("cli: readline is not initialized, console disabled")
		return
	}

	logger.Debug("cli run started")
	pr.SetPrompt("> ")
	pr.Println("Console started. Type a command (/status, /pairs, ...), 'help' or 'exit'.")
	pr.Println("Press '?' for the command reference.")
	s.installKeyHandlers()

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("cli: context canceled")
			return
		}

		line, err := rl.Readline()
		if err != nil {
			logger.Debug("cli: deactivated (io.EOF)")
			return
		}

		if s.handleCommand(ctx, strings.TrimSpace(line)) {
			return
		}
	}
}

// installKeyHandlers подключает обработчики клавиш readline:
//   - '?' печатает справку, не попадая в строку ввода;
//   - Ctrl-C на пустой строке останавливает приложение, на непустой очищает строку.
func (s *Service) installKeyHandlers() {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			s.printHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint:mnd // Ctrl-C (ETX)
			if strings.TrimSpace(string(line)) == "" {
				if s.stopApp != nil {
					s.stopApp()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

func (s *Service) printHelp() {
	// Пустой запрос отдаёт ту же справку, что видит оператор админ-бота.
	pr.Println(s.router.Handle(context.Background(), commands.Request{}))
}

// handleCommand выполняет одну команду. Возвращает true на команде exit.
func (s *Service) handleCommand(ctx context.Context, cmd string) bool {
	switch strings.ToLower(cmd) {
	case "":
		return false
	case "exit", "quit":
		logger.Debug("cli: exit requested")
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	case "help":
		s.printHelp()
		return false
	}

	// Консоль доверенная: ACL роутера здесь не применяется.
	pr.Println(s.router.Handle(ctx, commands.Request{Text: cmd}))
	return false
}
