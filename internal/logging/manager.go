package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Имена компонентов сервиса. Каждый получает свой файл логов.
const (
	ComponentServer   = "server"
	ComponentNavGraph = "navgraph"
	ComponentSampler  = "sampler"
	ComponentStorage  = "storage"
	ComponentEvents   = "events"
	ComponentSync     = "sync"
	ComponentAPI      = "api"
	ComponentHTTP     = "http"
)

// LoggerManager хранит логгеры компонентов и общий для них уровень консоли.
// Логгеры, созданные после SetLevel, получают уже установленный уровень.
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	level   LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

func newLoggerManager() *LoggerManager {
	return &LoggerManager{loggers: make(map[string]*Logger), level: INFO}
}

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = newLoggerManager()
	})
	return globalManager
}

// fileLevel - файл пишет DEBUG и всё, что включено в консоли
func fileLevel(console LogLevel) LogLevel {
	return min(console, DEBUG)
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()
	if exists {
		return logger, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", component, err)
	}
	logger.minConsoleLevel = lm.level
	logger.minFileLevel = fileLevel(lm.level)
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер компонента; если файл открыть не удалось,
// логгер пишет только в консоль и не запоминается менеджером
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err == nil {
		return logger
	}
	lm.mu.RLock()
	level := lm.level
	lm.mu.RUnlock()
	Warn("Логгер %s без файла: %v", component, err)
	return NewWriterLogger(component, defaultLogger.consoleLogger.Writer(), level)
}

// SetLevel задаёт уровень консоли всем логгерам компонентов, в том числе будущим
func (lm *LoggerManager) SetLevel(level LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.level = level
	for _, logger := range lm.loggers {
		logger.mu.Lock()
		logger.minConsoleLevel = level
		logger.minFileLevel = fileLevel(level)
		logger.mu.Unlock()
	}
}

// Level возвращает текущий уровень менеджера
func (lm *LoggerManager) Level() LogLevel {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.level
}

// SetLogLevel переопределяет уровни одного уже созданного компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("logger for component %s not found", component)
	}

	logger.mu.Lock()
	logger.minConsoleLevel = consoleLevel
	logger.minFileLevel = fileLevel
	logger.mu.Unlock()
	return nil
}

// CloseAll закрывает файлы всех компонентов и забывает их логгеры
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close logger %s: %w", component, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// ListComponents возвращает отсортированный список зарегистрированных компонентов
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// GetComponentLogger - логгер компонента из глобального менеджера
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetNavGraphLogger() *Logger {
	return GetComponentLogger(ComponentNavGraph)
}

func GetServerLogger() *Logger {
	return GetComponentLogger(ComponentServer)
}

func GetSyncLogger() *Logger {
	return GetComponentLogger(ComponentSync)
}
