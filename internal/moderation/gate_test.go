package moderation

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type stubClassifier struct {
	result Result
	err    error
	calls  int
}

func (s *stubClassifier) Classify(_ context.Context, _ string) (Result, error) {
	s.calls++
	return s.result, s.err
}

func TestKeywordClassifier(t *testing.T) {
	t.Parallel()

	k := NewKeywordClassifier([]string{"Slur", "badword"})

	tests := []struct {
		name  string
		text  string
		terms []string
	}{
		{name: "clean text", text: "hello there, how are you?", terms: nil},
		{name: "case insensitive hit", text: "you absolute SLUR", terms: []string{"slur"}},
		{name: "punctuation stripped", text: "badword!", terms: []string{"badword"}},
		{name: "substring does not match", text: "badwordish phrasing", terms: nil},
		{name: "multiple hits ordered", text: "badword and then slur", terms: []string{"badword", "slur"}},
		{name: "duplicate hits collapsed", text: "slur slur slur", terms: []string{"slur"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := k.Classify(context.Background(), tc.text)
			if err != nil {
				t.Fatalf("Classify returned error: %v", err)
			}
			if res.Offending != (len(tc.terms) > 0) {
				t.Errorf("Offending = %v, want %v", res.Offending, len(tc.terms) > 0)
			}
			if !reflect.DeepEqual(res.Terms, tc.terms) {
				t.Errorf("Terms = %v, want %v", res.Terms, tc.terms)
			}
		})
	}
}

func TestGateSkipsClassifierWithoutCandidate(t *testing.T) {
	t.Parallel()

	remote := &stubClassifier{result: Result{Offending: true, Terms: []string{"x"}}}
	gate := NewGate(NewKeywordClassifier([]string{"badword"}), remote, false, nil)

	res := gate.CheckInbound(context.Background(), "perfectly fine text")
	if res.Offending {
		t.Error("clean text flagged as offending")
	}
	if remote.calls != 0 {
		t.Errorf("authoritative classifier called %d times, want 0", remote.calls)
	}
}

func TestGateConsultsClassifierOnCandidate(t *testing.T) {
	t.Parallel()

	remote := &stubClassifier{result: Result{Offending: false}}
	gate := NewGate(NewKeywordClassifier([]string{"badword"}), remote, false, nil)

	res := gate.CheckInbound(context.Background(), "not actually a badword in context")
	if res.Offending {
		t.Error("authoritative verdict not respected")
	}
	if remote.calls != 1 {
		t.Errorf("authoritative classifier called %d times, want 1", remote.calls)
	}
}

func TestGateInboundFailsOpen(t *testing.T) {
	t.Parallel()

	remote := &stubClassifier{err: errors.New("classifier down")}
	gate := NewGate(NewKeywordClassifier([]string{"badword"}), remote, false, nil)

	res := gate.CheckInbound(context.Background(), "badword")
	if res.Offending {
		t.Error("inbound check should fail open when classifier is unavailable")
	}
}

func TestGateOutboundFailPolicy(t *testing.T) {
	t.Parallel()

	t.Run("fail open delivers", func(t *testing.T) {
		t.Parallel()
		remote := &stubClassifier{err: errors.New("classifier down")}
		gate := NewGate(NewKeywordClassifier([]string{"badword"}), remote, false, nil)

		res := gate.CheckOutbound(context.Background(), "badword")
		if res.Offending {
			t.Error("fail-open outbound check should not block")
		}
	})

	t.Run("fail closed blocks", func(t *testing.T) {
		t.Parallel()
		remote := &stubClassifier{err: errors.New("classifier down")}
		gate := NewGate(NewKeywordClassifier([]string{"badword"}), remote, true, nil)

		res := gate.CheckOutbound(context.Background(), "badword")
		if !res.Offending {
			t.Error("fail-closed outbound check should block")
		}
		if len(res.Terms) == 0 {
			t.Error("fail-closed verdict should carry the fast-path terms")
		}
	})
}

func TestGateWithoutAuthoritativeClassifier(t *testing.T) {
	t.Parallel()

	gate := NewGate(NewKeywordClassifier([]string{"badword"}), nil, false, nil)

	res := gate.CheckInbound(context.Background(), "badword here")
	if !res.Offending {
		t.Error("fast-path hit should be authoritative when no classifier is configured")
	}
}
