package secmem

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

func TestEqualMatchesOnlyTheToken(t *testing.T) {
	tok := NewToken("hunter2")
	if !tok.Equal("hunter2") {
		t.Fatal("Equal(token) = false")
	}
	for _, bad := range []string{"", "hunter", "hunter22", "HUNTER2"} {
		if tok.Equal(bad) {
			t.Fatalf("Equal(%q) = true", bad)
		}
	}
}

func TestEqualOnNilOrEmptyMatchesNothing(t *testing.T) {
	var tok *Token
	if tok.Equal("") {
		t.Fatal("nil token matched empty candidate")
	}
	if NewToken("").Equal("") {
		t.Fatal("empty token matched empty candidate")
	}
}

func TestEqualAfterZeroWarnsOnce(t *testing.T) {
	tok := NewToken("secret")
	tok.Zero()
	if tok.Equal("secret") {
		t.Fatal("wiped token still matches")
	}
	if !tok.warnedOnce.Load() {
		t.Fatal("warnedOnce should be set after comparing a wiped token")
	}
	tok.Equal("secret")
	if !tok.warnedOnce.Load() {
		t.Fatal("warnedOnce should remain set")
	}
}

func TestRevealAndZero(t *testing.T) {
	tok := NewToken("secret")
	if got := tok.Reveal(); got != "secret" {
		t.Fatalf("Reveal() = %q", got)
	}
	if tok.IsZeroed() {
		t.Fatal("IsZeroed() = true before Zero()")
	}
	tok.Zero()
	if !tok.IsZeroed() || tok.Reveal() != "" {
		t.Fatal("token not wiped by Zero()")
	}

	var nilTok *Token
	nilTok.Zero()
	if nilTok.Reveal() != "" || nilTok.IsZeroed() {
		t.Fatal("nil token misbehaves")
	}
}

func TestFormattingIsRedacted(t *testing.T) {
	tok := NewToken("secret")
	for _, verb := range []string{"%v", "%+v", "%#v", "%s", "%q", "%x"} {
		if got := fmt.Sprintf(verb, tok); got != "[REDACTED]" {
			t.Fatalf("Sprintf(%s) = %q", verb, got)
		}
	}
	if got := tok.String(); got != "[REDACTED]" {
		t.Fatalf("String() = %q", got)
	}
	if got := tok.GoString(); got != "[REDACTED]" {
		t.Fatalf("GoString() = %q", got)
	}
	text, _ := tok.MarshalText()
	if string(text) != "[REDACTED]" {
		t.Fatalf("MarshalText() = %q", text)
	}
}

func TestJSONIsRedactedAndOneWay(t *testing.T) {
	type settings struct {
		Token *Token `json:"token"`
		Addr  string `json:"addr"`
	}
	data, err := json.Marshal(settings{Token: NewToken("secret"), Addr: ":8900"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var parsed map[string]any
	json.Unmarshal(data, &parsed)
	if parsed["token"] != "[REDACTED]" || parsed["addr"] != ":8900" {
		t.Fatalf("marshalled = %s", data)
	}

	var tok Token
	if err := json.Unmarshal([]byte(`"secret"`), &tok); err == nil {
		t.Fatal("UnmarshalJSON should refuse")
	}
}

func TestConcurrentEqualAndZero(t *testing.T) {
	tok := NewToken("concurrent")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Equal("concurrent")
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		tok.Zero()
	}()
	wg.Wait()

	if tok.Equal("concurrent") {
		t.Fatal("token matches after concurrent Zero")
	}
}
