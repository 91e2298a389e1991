package service

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"testing"
)

func TestPermanent(t *testing.T) {
	err := fmt.Errorf("Permanent error")
	if Temporary(err) {
		t.Fail()
	}
	err = &url.Error{Err: err}
	if Temporary(err) {
		t.Fail()
	}
}

func TestTemporary(t *testing.T) {
	err := MakeTemporary(fmt.Errorf("Temporary error"))
	if !Temporary(err) {
		t.Fail()
	}
	err = fmt.Errorf("Warp: %w", err)
	if !Temporary(err) {
		t.Fail()
	}
	if !Temporary(context.Canceled) {
		t.Fail()
	}
	if !Temporary(context.DeadlineExceeded) {
		t.Fail()
	}
	err = fmt.Errorf("Warp: %w", &url.Error{Err: err})
	if !Temporary(err) {
		t.Fail()
	}
}

func TestStringSet(t *testing.T) {
	set := NewStringSet("red", "green", "red")
	if len(set) != 2 {
		t.Errorf("len: excepted 2 got %d", len(set))
	}
	if !set.Exists("red") || !set.Exists("green") || set.Exists("blue") {
		t.Fail()
	}
	set.Push("blue")
	set.Pop("red")
	sl := set.Slice()
	sort.Strings(sl)
	if len(sl) != 2 || sl[0] != "blue" || sl[1] != "green" {
		t.Errorf("slice: got %v", sl)
	}
}
