// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// AwaitReady blocks until ep is attached and reports sys.boot_completed=1, or
// until BootTimeout has elapsed. Both phases share one absolute deadline.
func (h *Host) AwaitReady(ctx context.Context, ep Endpoint) error {
	timeout := h.env.BootTimeout
	ctx, span := startSpan(ctx, h.env, "avd.AwaitReady",
		attribute.String("serial", ep.Serial),
		attribute.String("timeout", timeout.String()),
	)
	defer span.End()

	deadline := h.clock.Now().Add(timeout)
	timeoutErr := func(detail string) error {
		err := &TimeoutError{Kind: ErrDeviceBootTimeout, Serial: ep.Serial, Timeout: timeout, Deadline: deadline, Detail: detail}
		logWarn(h.env, "wait for boot timeout", "serial", ep.Serial, "timeout", timeout.String(), "detail", detail)
		recordSpanError(span, err)
		return err
	}

	attachCtx, cancel := context.WithTimeout(ctx, timeout)
	err := h.WaitForAttach(attachCtx, ep)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			recordSpanError(span, ctxErr)
			return ctxErr
		}
		if errors.Is(attachCtx.Err(), context.DeadlineExceeded) {
			return timeoutErr("adb never saw the device")
		}
		recordSpanError(span, err)
		return err
	}

	remaining := deadline.Sub(h.clock.Now())
	lastError := ""
	err = Poll(h.clock, h.env.BootPollInterval, remaining, func() (bool, error) {
		booted, err := h.IsBooted(ctx, ep)
		if err != nil {
			// offline or still starting adbd
			lastError = strings.TrimSpace(err.Error())
			return false, nil
		}
		return booted, nil
	})
	if errors.Is(err, errPollDeadline) {
		detail := "adb could not confirm boot completion"
		if lastError != "" {
			detail += "; last adb error: " + lastError
		}
		return timeoutErr(detail)
	}
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	span.SetAttributes(attribute.Bool("boot_completed", true))
	logEvent(h.env, "device booted", "serial", ep.Serial)
	return nil
}
