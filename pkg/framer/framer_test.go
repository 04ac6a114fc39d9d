package framer

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestFeed(t *testing.T) {
	tests := []struct {
		name        string
		term        Terminator
		chunks      []string
		wantLines   []string
		wantPending string
	}{
		{
			name:      "Single complete line",
			term:      CRLF,
			chunks:    []string{"ok\r\n"},
			wantLines: []string{"ok"},
		},
		{
			name:        "No terminator buffers everything",
			term:        CRLF,
			chunks:      []string{"<Idle|MPos:0.000"},
			wantPending: "<Idle|MPos:0.000",
		},
		{
			name:      "Terminator split across chunks",
			term:      CRLF,
			chunks:    []string{"ok\r", "\nok\r\n"},
			wantLines: []string{"ok", "ok"},
		},
		{
			name:        "Trailing fragment is kept",
			term:        CR,
			chunks:      []string{"$H\r?\rG0 X1"},
			wantLines:   []string{"$H", "?"},
			wantPending: "G0 X1",
		},
		{
			name:      "Empty lines are preserved",
			term:      LF,
			chunks:    []string{"a\n\nb\n"},
			wantLines: []string{"a", "", "b"},
		},
		{
			name:        "CR alone does not end a CRLF line",
			term:        CRLF,
			chunks:      []string{"ok\rok"},
			wantPending: "ok\rok",
		},
		{
			name:      "LF framer keeps carriage returns",
			term:      LF,
			chunks:    []string{"ok\r\n"},
			wantLines: []string{"ok\r"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.term)
			var got []string
			for _, c := range tt.chunks {
				got = append(got, f.Lines([]byte(c))...)
			}
			if !reflect.DeepEqual(got, tt.wantLines) {
				t.Errorf("lines = %q, want %q", got, tt.wantLines)
			}
			if p := string(f.Pending()); p != tt.wantPending {
				t.Errorf("pending = %q, want %q", p, tt.wantPending)
			}
		})
	}
}

func TestFeedChunkInvariance(t *testing.T) {
	stream := []byte("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n" +
		"<Idle|MPos:-90.000,-45.000,0.000|FS:0,0>\r\nok\r\n\r\nALARM:1\r\n[MSG:Reset to continue]\r\npartial")

	for _, term := range []Terminator{CR, LF, CRLF} {
		whole := New(term).Lines(stream)

		// Every single split point
		for i := 0; i <= len(stream); i++ {
			f := New(term)
			got := append(f.Lines(stream[:i]), f.Lines(stream[i:])...)
			if !reflect.DeepEqual(got, whole) {
				t.Fatalf("%s split at %d: got %q, want %q", term.Name(), i, got, whole)
			}
		}

		// Random multi-way splits, including empty chunks
		rng := rand.New(rand.NewSource(42))
		for n := 0; n < 200; n++ {
			f := New(term)
			var got []string
			rest := stream
			for len(rest) > 0 {
				k := rng.Intn(8)
				if k > len(rest) {
					k = len(rest)
				}
				got = append(got, f.Lines(rest[:k])...)
				rest = rest[k:]
			}
			if !reflect.DeepEqual(got, whole) {
				t.Fatalf("%s random split %d: got %q, want %q", term.Name(), n, got, whole)
			}
		}
	}
}

func TestFeedEarlyBreakKeepsLines(t *testing.T) {
	f := New(CRLF)
	var first []string
	for line := range f.Feed([]byte("a\r\nb\r\nc\r\n")) {
		first = append(first, line)
		break
	}
	if !reflect.DeepEqual(first, []string{"a"}) {
		t.Fatalf("first = %q", first)
	}

	rest := f.Lines(nil)
	if !reflect.DeepEqual(rest, []string{"b", "c"}) {
		t.Errorf("rest = %q, want [b c]", rest)
	}
}

func TestFeedIsLazy(t *testing.T) {
	f := New(LF)
	seq := f.Feed([]byte("x\n"))
	if string(f.Pending()) != "x\n" {
		t.Fatalf("pending before iteration = %q", f.Pending())
	}
	for range seq {
	}
	if len(f.Pending()) != 0 {
		t.Errorf("pending after iteration = %q", f.Pending())
	}
}

func TestReset(t *testing.T) {
	f := New(CRLF)
	f.Lines([]byte("garbage"))
	f.Reset()
	if got := f.Lines([]byte("ok\r\n")); !reflect.DeepEqual(got, []string{"ok"}) {
		t.Errorf("lines after reset = %q", got)
	}
}

func TestParseTerminator(t *testing.T) {
	tests := []struct {
		in      string
		want    Terminator
		wantErr bool
	}{
		{"", CRLF, false},
		{"crlf", CRLF, false},
		{"CR", CR, false},
		{" lf ", LF, false},
		{"semicolon", CRLF, true},
	}
	for _, tt := range tests {
		got, err := ParseTerminator(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTerminator(%q) = %v, %v; want %v, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
