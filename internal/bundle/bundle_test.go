package bundle

import (
	"bytes"
	"testing"
)

func TestBundleUnbundleRoundTrip(t *testing.T) {
	messages := [][]byte{
		[]byte("first message"),
		[]byte("second, a bit longer this time"),
		[]byte(""),
	}

	payload := Bundle(messages)
	got, err := Unbundle(payload)
	if err != nil {
		t.Fatalf("Unbundle: %v", err)
	}
	if len(got) != len(messages) {
		t.Fatalf("got %d messages, want %d", len(got), len(messages))
	}
	for i := range messages {
		if !bytes.Equal(got[i], messages[i]) {
			t.Fatalf("message %d = %q, want %q", i, got[i], messages[i])
		}
	}
}

func TestUnbundleBareSingleMessage(t *testing.T) {
	payload := []byte("no sentinel here")
	got, err := Unbundle(payload)
	if err != nil {
		t.Fatalf("Unbundle: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], payload) {
		t.Fatalf("got %v", got)
	}
}

func TestUnbundleTruncatedIsError(t *testing.T) {
	payload := append(append([]byte{}, Sentinel[:]...), 0xFF, 0x00) // claims a 2-byte length field then nothing
	if _, err := Unbundle(payload); err == nil {
		t.Fatal("expected a truncation error")
	}
}

func TestBundleMessageOver255BytesUsesLongForm(t *testing.T) {
	big := bytes.Repeat([]byte{0x01}, 300)
	payload := Bundle([][]byte{big, []byte("small")})

	got, err := Unbundle(payload)
	if err != nil {
		t.Fatalf("Unbundle: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], big) || string(got[1]) != "small" {
		t.Fatalf("got %d messages", len(got))
	}
}
