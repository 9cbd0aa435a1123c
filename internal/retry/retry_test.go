package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func TestDo_Success(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), Policy{Attempts: 3}, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestDo_RecoversBetweenAttempts(t *testing.T) {
	var events []string
	p := Policy{
		Attempts: 3,
		Recover: func(context.Context) error {
			events = append(events, "recover")
			return nil
		},
		OnRetry: func(attempt int, err error) {
			assert.ErrorIs(t, err, errTransient)
			events = append(events, "retry")
		},
	}

	calls := 0
	v, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		events = append(events, "op")
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []string{"op", "retry", "recover", "op", "retry", "recover", "op"}, events)
}

func TestDo_Exhausted(t *testing.T) {
	recovered := 0
	p := Policy{
		Attempts: 3,
		Recover: func(context.Context) error {
			recovered++
			return nil
		},
	}

	calls := 0
	err := Run(context.Background(), p, func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	// no recovery after the last attempt
	assert.Equal(t, 2, recovered)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, "max retries exceeded after 3 attempts: transient", err.Error())
}

func TestDo_Fatal(t *testing.T) {
	p := Policy{
		Attempts: 5,
		IsFatal:  func(err error) bool { return errors.Is(err, errFatal) },
		Recover: func(context.Context) error {
			t.Fatal("recover must not run after a fatal error")
			return nil
		},
	}

	for _, cause := range []error{errFatal, context.Canceled, &ExhaustedError{Attempts: 1, Err: errTransient}} {
		calls := 0
		err := Run(context.Background(), p, func(context.Context) error {
			calls++
			return cause
		})
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 1, calls)
	}
}

func TestDo_RecoverFailure(t *testing.T) {
	errSetup := errors.New("setup")
	p := Policy{
		Attempts: 5,
		Recover:  func(context.Context) error { return errSetup },
	}

	calls := 0
	err := Run(context.Background(), p, func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errSetup)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Run(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_Delay(t *testing.T) {
	mock := clock.NewMock()
	p := Policy{Attempts: 2, Delay: time.Minute, Clock: mock}

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), p, func(context.Context) error {
			return errTransient
		})
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrExhausted)
			assert.GreaterOrEqual(t, mock.Now().Sub(time.Unix(0, 0)), time.Minute)
			return
		case <-deadline:
			t.Fatal("retry did not finish")
		default:
			mock.Add(time.Second)
		}
	}
}

func TestDo_CanceledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 3, Delay: time.Hour, Clock: clock.NewMock()}

	calls := 0
	err := Run(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
