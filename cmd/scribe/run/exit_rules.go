package run

import (
	"context"
	"errors"

	"github.com/flarebyte/scribe/internal/config"
	"github.com/flarebyte/scribe/internal/pipeline"
)

const (
	exitCodeExecErr     = 1
	exitCodeInterrupted = 130
)

type runExitError struct {
	code int
	msg  string
}

func (e runExitError) Error() string { return e.msg }
func (e runExitError) ExitCode() int { return e.code }

func keepGoingMode(mode string) bool {
	return mode == "" || mode == config.ModeKeepGoing
}

// evaluateRunExit maps the run result onto the process exit status.
func evaluateRunExit(mode string, sum pipeline.Summary, err error) error {
	if err != nil {
		if sum.State == pipeline.StateInterrupted || errors.Is(err, context.Canceled) {
			return runExitError{code: exitCodeInterrupted, msg: "interrupted: " + err.Error()}
		}
		return err
	}
	if !keepGoingMode(mode) {
		return nil
	}
	if sum.Processed == 0 || sum.Failed < sum.Processed {
		return nil
	}
	return runExitError{code: exitCodeExecErr, msg: "keep-going: no successful records"}
}
