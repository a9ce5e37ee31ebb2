package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	apperrors "edukg/backend/pkg/errors"
)

const validatorSystemPrompt = `You review module recommendations for a student of an online course platform.
You receive candidate modules with their competency ids, competency domains and short descriptions.
For every candidate decide whether it is a suitable next module to study: it must teach concrete,
well-described competencies and fit a coherent learning path.

Return ONLY a JSON object of this exact shape:
{"results": [{"module_id": "<id>", "suitable": true, "reason": "<one sentence>"}]}
Include one entry per candidate module id. Do not add any other keys or text.`

// LLMValidator judges candidates with a chat completion. Calls go through a
// circuit breaker so a dead service fails fast for the rest of a batch.
type LLMValidator struct {
	llm     adapter.Completer
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[string]
	logger  *zap.Logger
}

// NewLLMValidator creates a validator with a per-call timeout
func NewLLMValidator(llm adapter.Completer, timeout time.Duration, logger *zap.Logger) *LLMValidator {
	settings := gobreaker.Settings{
		Name:        "validator",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Validator circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &LLMValidator{
		llm:     llm,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
		logger:  logger,
	}
}

// Validate sends the request as one completion and parses the verdicts.
// Any failure, including a timeout or an open breaker, is returned as an
// external error for the caller to fall back on.
func (v *LLMValidator) Validate(ctx context.Context, req ValidationRequest) ([]Verdict, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewValidationFailed("encode request", err)
	}

	raw, err := v.breaker.Execute(func() (string, error) {
		callCtx := ctx
		if v.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, v.timeout)
			defer cancel()
		}
		out, err := v.llm.Complete(callCtx, validatorSystemPrompt, string(payload), adapter.CompleteOptions{
			JSON:        true,
			Temperature: 0,
			MaxAttempts: 1,
		})
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", apperrors.NewContextTimeout("validate", v.timeout, err)
		}
		return out, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.NewValidationFailed("validator unavailable", err)
		}
		return nil, err
	}

	verdicts, err := ParseVerdicts(raw)
	if err != nil {
		v.logger.Warn("Validator returned an unusable response",
			zap.String("student_id", req.StudentID),
			zap.Error(err),
		)
		return nil, err
	}
	return verdicts, nil
}
