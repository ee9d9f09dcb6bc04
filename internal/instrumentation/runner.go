package instrumentation

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/alertr/alertrd/internal/metrics"
	"github.com/alertr/alertrd/internal/types"
)

// FailureKind classifies why an instrumentation run failed.
type FailureKind string

const (
	FailureExecution     FailureKind = "execution_error"
	FailureTimeout       FailureKind = "timeout"
	FailureExitCode      FailureKind = "exit_code"
	FailureOutputEmpty   FailureKind = "output_empty"
	FailureOutputInvalid FailureKind = "output_invalid"
)

// Failure describes a failed instrumentation run.
type Failure struct {
	Kind     FailureKind
	Level    types.AlertLevel
	ExitCode int // only for FailureExitCode
	Err      error
}

// ErrorReporter is notified of every failed instrumentation run.
type ErrorReporter interface {
	ReportInstrumentationFailure(f Failure)
}

const defaultKillGrace = time.Second

// Runner executes instrumentation commands asynchronously.
type Runner struct {
	logger    zerolog.Logger
	reporter  ErrorReporter
	killGrace time.Duration
	wg        sync.WaitGroup
}

type RunnerOption func(*Runner)

// WithErrorReporter sets the hook notified on failures.
func WithErrorReporter(r ErrorReporter) RunnerOption {
	return func(rn *Runner) { rn.reporter = r }
}

// WithKillGrace sets how long a timed out command may take to exit after
// SIGTERM before it is killed.
func WithKillGrace(d time.Duration) RunnerOption {
	return func(rn *Runner) { rn.killGrace = d }
}

func NewRunner(logger zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:    logger.With().Str("component", "instrumentation").Logger(),
		killGrace: defaultKillGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute starts the level's instrumentation command for alert and returns
// immediately. The returned promise resolves when the command finished.
func (r *Runner) Execute(level types.AlertLevel, alert *types.SensorAlert) *Promise {
	p := NewPromise(level, alert)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(p)
	}()
	return p
}

// Wait blocks until every started instrumentation has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(p *Promise) {
	level := p.Level()
	log := r.logger.With().
		Int("alert_level", level.Level).
		Str("promise_id", p.ID()).
		Int("sensor_id", p.Original().SensorID).
		Logger()

	start := time.Now()
	defer func() {
		metrics.InstrumentationDuration.Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if rec := recover(); rec != nil {
			metrics.PanicsRecovered.WithLabelValues("instrumentation").Inc()
			log.Error().Interface("panic", rec).Msg("Recovered from panic during instrumentation")
			r.fail(p, Failure{Kind: FailureExecution, Level: level}, log)
		}
	}()

	payload, err := BuildPayload(level.Level, p.Original())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build instrumentation payload")
		r.fail(p, Failure{Kind: FailureExecution, Level: level, Err: err}, log)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), level.Timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, level.InstrumentationCmd, string(payload))
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.killGrace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("cmd", level.InstrumentationCmd).Msg("Executing instrumentation")

	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Str("cmd", level.InstrumentationCmd).Msg("Executing instrumentation failed")
		r.fail(p, Failure{Kind: FailureExecution, Level: level, Err: err}, log)
		return
	}
	waitErr := cmd.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Error().Dur("timeout", level.Timeout()).Msg("Instrumentation timed out")
		r.fail(p, Failure{Kind: FailureTimeout, Level: level, Err: ctx.Err()}, log)
		return
	}

	output := strings.TrimSpace(stdout.String())
	errOutput := strings.TrimSpace(stderr.String())

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			log.Error().Err(waitErr).Msg("Waiting for instrumentation failed")
			r.fail(p, Failure{Kind: FailureExecution, Level: level, Err: waitErr}, log)
			return
		}
		log.Error().
			Int("exit_code", exitErr.ExitCode()).
			Str("stdout", output).
			Str("stderr", errOutput).
			Msg("Instrumentation exited with non-zero exit code")
		r.fail(p, Failure{Kind: FailureExitCode, Level: level, ExitCode: exitErr.ExitCode(), Err: waitErr}, log)
		return
	}

	if output == "" {
		log.Error().Str("stderr", errOutput).Msg("No output from instrumentation")
		r.fail(p, Failure{Kind: FailureOutputEmpty, Level: level}, log)
		return
	}

	log.Debug().Str("stdout", output).Msg("Received instrumentation output")
	replacement, err := ParseOutput(level.Level, p.Original(), []byte(output))
	if err != nil {
		log.Error().
			Err(err).
			Str("stdout", output).
			Str("stderr", errOutput).
			Msg("Unable to process instrumentation output")
		r.fail(p, Failure{Kind: FailureOutputInvalid, Level: level, Err: err}, log)
		return
	}

	if replacement == nil {
		metrics.InstrumentationResults.WithLabelValues("suppressed").Inc()
		log.Info().Msg("Instrumentation suppressed sensor alert")
	} else {
		metrics.InstrumentationResults.WithLabelValues("success").Inc()
		log.Debug().Int("state", replacement.State).Msg("Instrumentation finished")
	}
	_ = p.SetSuccess(replacement)
}

func (r *Runner) fail(p *Promise, f Failure, log zerolog.Logger) {
	metrics.InstrumentationResults.WithLabelValues("failed").Inc()
	if r.reporter != nil {
		r.reporter.ReportInstrumentationFailure(f)
	}
	if err := p.SetFailed(); err != nil {
		log.Warn().Err(err).Msg("Instrumentation promise already resolved")
	}
}
