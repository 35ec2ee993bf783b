package router

import (
	"sort"
	"testing"

	"github.com/aquamarinepk/relaybus/buserr"
)

func ids(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(string))
	}
	sort.Strings(out)
	return out
}

func TestLiteralMatch(t *testing.T) {
	r := New()
	if _, err := r.Subscribe("orders.created", "sub-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	got := ids(r.Match("orders.created"))
	if len(got) != 1 || got[0] != "sub-1" {
		t.Errorf("Match() = %v, want [sub-1]", got)
	}

	if len(r.Match("orders.shipped")) != 0 {
		t.Error("Match() should not match a different topic")
	}
}

func TestSingleSegmentWildcard(t *testing.T) {
	r := New()
	if _, err := r.Subscribe("orders.*.shipped", "sub-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	got := ids(r.Match("orders.123.shipped"))
	if len(got) != 1 || got[0] != "sub-1" {
		t.Errorf("Match() = %v, want [sub-1]", got)
	}

	if len(r.Match("orders.123.456.shipped")) != 0 {
		t.Error("* should not match more than one segment")
	}
	if len(r.Match("orders.shipped")) != 0 {
		t.Error("* should not match zero segments")
	}
}

func TestTerminalHashWildcard(t *testing.T) {
	r := New()
	if _, err := r.Subscribe("orders.#", "sub-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, topic := range []string{"orders.created", "orders.eu.created", "orders.eu.west.created"} {
		got := ids(r.Match(topic))
		if len(got) != 1 || got[0] != "sub-1" {
			t.Errorf("Match(%q) = %v, want [sub-1]", topic, got)
		}
	}

	if len(r.Match("invoices.created")) != 0 {
		t.Error("# on orders should not match a different root")
	}
}

func TestMultipleSubscribersFanOut(t *testing.T) {
	r := New()
	mustSubscribe(t, r, "orders.created", "sub-1")
	mustSubscribe(t, r, "orders.*", "sub-2")
	mustSubscribe(t, r, "orders.#", "sub-3")

	got := ids(r.Match("orders.created"))
	want := []string{"sub-1", "sub-2", "sub-3"}
	if !equalStrings(got, want) {
		t.Errorf("Match() = %v, want %v", got, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	r := New()
	sub, err := r.Subscribe("orders.created", "sub-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := r.Unsubscribe(sub); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	if len(r.Match("orders.created")) != 0 {
		t.Error("Match() should return nothing after Unsubscribe")
	}
}

func TestUnsubscribeUnknownReturnsNotFound(t *testing.T) {
	r := New()
	sub, _ := r.Subscribe("orders.created", "sub-1")
	if err := r.Unsubscribe(sub); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	err := r.Unsubscribe(sub)
	if err == nil {
		t.Fatal("second Unsubscribe() error = nil, want not_found")
	}
	if !buserr.Is(err, buserr.NotFound) {
		t.Errorf("Unsubscribe() err kind = %v, want NotFound", err)
	}
}

func TestSubscribeRejectsInteriorHash(t *testing.T) {
	r := New()
	_, err := r.Subscribe("orders.#.created", "sub-1")
	if err == nil {
		t.Fatal("Subscribe() error = nil, want invalid_argument")
	}
	if !buserr.Is(err, buserr.InvalidArgument) {
		t.Errorf("Subscribe() err kind = %v, want InvalidArgument", err)
	}
}

func TestCount(t *testing.T) {
	r := New()
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}

	sub1 := mustSubscribe(t, r, "a.b", "sub-1")
	mustSubscribe(t, r, "a.*", "sub-2")
	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}

	if err := r.Unsubscribe(sub1); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func mustSubscribe(t *testing.T, r *Router, pattern string, id any) Subscription {
	t.Helper()
	sub, err := r.Subscribe(pattern, id)
	if err != nil {
		t.Fatalf("Subscribe(%q) error = %v", pattern, err)
	}
	return sub
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
