package logging

import (
	"fmt"
	"sort"
	"sync"
)

// Manager управляет логгерами для разных компонентов.
// Создаётся в main и передаётся дальше явно.
type Manager struct {
	mu      sync.RWMutex
	opts    Options
	loggers map[string]*Logger
}

// NewManager создаёт менеджер с общими настройками для всех компонентов
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:    opts,
		loggers: make(map[string]*Logger),
	}
}

// Get возвращает логгер для компонента, создавая его при необходимости
func (lm *Manager) Get(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	// Проверяем еще раз на случай гонки
	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	logger, err := New(component, lm.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGet возвращает логгер или консольный fallback при ошибке файла
func (lm *Manager) MustGet(component string) *Logger {
	logger, err := lm.Get(component)
	if err == nil {
		return logger
	}

	opts := lm.opts
	opts.Dir = ""
	fallback, _ := New(component, opts)
	fallback.Warnf("Файловый лог недоступен: %v", err)
	return fallback
}

// SetLevel устанавливает уровни логирования для компонента
func (lm *Manager) SetLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("logger for component %s not found", component)
	}

	logger.SetLevels(consoleLevel, fileLevel)
	return nil
}

// Components возвращает отсортированный список зарегистрированных компонентов
func (lm *Manager) Components() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// CloseAll закрывает все логгеры
func (lm *Manager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close logger for %s: %w", component, err)
		}
	}

	lm.loggers = make(map[string]*Logger)
	return lastErr
}
