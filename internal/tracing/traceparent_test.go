package tracing

import "testing"

func TestParseTraceparentValid(t *testing.T) {
	header := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	p, ok := ParseTraceparent(header)
	if !ok {
		t.Fatalf("expected valid traceparent to parse")
	}
	if p.TraceID.String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("unexpected trace id: %s", p.TraceID.String())
	}
	if p.SpanID.String() != "00f067aa0ba902b7" {
		t.Errorf("unexpected span id: %s", p.SpanID.String())
	}
}

func TestParseTraceparentMalformedRejected(t *testing.T) {
	cases := []string{
		"",
		"not-a-traceparent",
		"01-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		"00-tooshort-00f067aa0ba902b7-01",
		"00-00000000000000000000000000000000-00f067aa0ba902b7-01",
	}
	for _, c := range cases {
		if _, ok := ParseTraceparent(c); ok {
			t.Errorf("expected %q to be rejected", c)
		}
	}
}

func TestFormatTraceparentRoundTrip(t *testing.T) {
	header := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	p, ok := ParseTraceparent(header)
	if !ok {
		t.Fatal("expected valid parse")
	}
	got := FormatTraceparent(p.TraceID, p.SpanID)
	if got != header {
		t.Errorf("round trip mismatch: got %s want %s", got, header)
	}
}
