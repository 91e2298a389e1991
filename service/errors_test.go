package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetriable(t *testing.T) {
	i := 0
	ctx := context.Background()
	tim := time.Now()
	err := Retriable(ctx, func() error {
		i++
		return fmt.Errorf("%d", i)
	}, time.Microsecond, 3)

	if time.Since(tim) < 3*time.Microsecond {
		t.Errorf("err: excepted at least 3µs got %v", time.Since(tim))
	}

	if err == nil {
		t.Error("err: excepted 3 got nil")
	}
	if err.Error() != "3" {
		t.Error("err: excepted 3 got " + err.Error())
	}
}

func TestRetriableFatal(t *testing.T) {
	i := 0
	err := Retriable(context.Background(), func() error {
		i++
		return MakeFatal(fmt.Errorf("broken"))
	}, time.Microsecond, 5)

	if i != 1 {
		t.Errorf("attempts: excepted 1 got %d", i)
	}
	if err == nil || !Fatal(err) {
		t.Errorf("err: excepted fatal got %v", err)
	}
}

func TestRetriableSuccess(t *testing.T) {
	i := 0
	err := Retriable(context.Background(), func() error {
		i++
		if i < 2 {
			return fmt.Errorf("not yet")
		}
		return nil
	}, time.Microsecond, 5)

	if err != nil {
		t.Errorf("err: excepted nil got %v", err)
	}
	if i != 2 {
		t.Errorf("attempts: excepted 2 got %d", i)
	}
}

func TestMergeErrors(t *testing.T) {
	errA := fmt.Errorf("A")
	errB := MakeTemporary(fmt.Errorf("B"))

	if err := MergeErrors(true, nil, nil); err != nil {
		t.Errorf("excepted nil got %v", err)
	}
	if err := MergeErrors(false, errA, nil); err != nil {
		t.Errorf("excepted nil got %v", err)
	}
	if err := MergeErrors(true, nil, errA); !errors.Is(err, errA) {
		t.Errorf("excepted A got %v", err)
	}
	// Priority to the fatal error: A (not temporary) stays at the head
	if err := MergeErrors(true, errA, errB); !errors.Is(err, errA) {
		t.Errorf("excepted A first got %v", err)
	}
	// Priority to the temporary error
	if err := MergeErrors(false, errA, errB); !Temporary(err) {
		t.Errorf("excepted temporary got %v", err)
	}
}
