package resilience

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig задаёт пороги circuit breaker.
type BreakerConfig struct {
	// FailureThreshold — подряд идущих отказов до размыкания.
	FailureThreshold int
	// OpenTimeout — сколько цепь остаётся разомкнутой до пробных вызовов.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls — сколько пробных вызовов пропускается одновременно.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig возвращает конфигурацию по умолчанию.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker реализует машину состояний closed/open/half-open, безопасная для конкурентного использования.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu               sync.Mutex
	state            CircuitState
	failures         int
	openedAt         time.Time
	halfOpenInFlight int

	now      func() time.Time
	onChange func(name string, state CircuitState)
	logger   *log.Entry
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig, logger *log.Entry) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		state:  CircuitClosed,
		now:    time.Now,
		logger: logger.WithField("breaker", name),
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// OnStateChange регистрирует наблюдателя переходов (например, gauge метрик).
func (cb *CircuitBreaker) OnStateChange(fn func(name string, state CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// State возвращает текущее состояние с учётом истечения OpenTimeout.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Allow решает, можно ли выполнить вызов. Возвращает domain.ErrCircuitOpen при отказе.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			return domain.ErrCircuitOpen
		}
		cb.setStateLocked(CircuitHalfOpen)
		cb.halfOpenInFlight = 1
		return nil
	case CircuitHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxCalls {
			return domain.ErrCircuitOpen
		}
		cb.halfOpenInFlight++
		return nil
	default:
		return nil
	}
}

// RecordSuccess замыкает цепь после удачного пробного вызова и сбрасывает счётчик.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.halfOpenInFlight = 0
		cb.setStateLocked(CircuitClosed)
	}
}

// RecordFailure считает отказ; в half-open любой отказ снова размыкает цепь.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.state {
	case CircuitHalfOpen:
		cb.halfOpenInFlight = 0
		cb.openLocked()
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.openLocked()
		}
	}
}

// Release освобождает слот пробного вызова, если вызов завершился без вердикта
// (бизнес-ошибка или отмена контекста).
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

func (cb *CircuitBreaker) openLocked() {
	cb.openedAt = cb.now()
	cb.setStateLocked(CircuitOpen)
	cb.logger.WithField("failures", cb.failures).Warn("circuit breaker opened")
}

func (cb *CircuitBreaker) setStateLocked(state CircuitState) {
	if cb.state == state {
		return
	}
	cb.state = state
	if state == CircuitClosed {
		cb.logger.Info("circuit breaker closed")
	}
	if cb.onChange != nil {
		cb.onChange(cb.name, state)
	}
}
