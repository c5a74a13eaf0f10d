package document

import "testing"

func TestNewMetadataDefaults(t *testing.T) {
	streams := NewStreamFactory()
	doc := New("https://example.com/a", streams)

	if doc.Reference != "https://example.com/a" {
		t.Errorf("Reference = %q, want the bound reference", doc.Reference)
	}
	if doc.IsNew() {
		t.Errorf("IsNew() = true, want false before SetIsNew")
	}
	if doc.Stream() == nil {
		t.Fatalf("Stream() = nil, want an allocated stream")
	}
}

func TestSetIsNewRoundTrips(t *testing.T) {
	doc := New("https://example.com/a", NewStreamFactory())
	doc.SetIsNew(true)
	if !doc.IsNew() {
		t.Errorf("IsNew() = false, want true after SetIsNew(true)")
	}
}

func TestReleaseIsSafeToCallTwice(t *testing.T) {
	doc := New("https://example.com/a", NewStreamFactory())
	if _, err := doc.Stream().Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	doc.Release()
	doc.Release() // must not panic

	if doc.Stream() != nil {
		t.Errorf("Stream() = non-nil after Release, want nil")
	}
}

func TestStreamWriteAndBytes(t *testing.T) {
	streams := NewStreamFactory()
	s := streams.NewStream()

	if _, err := s.Write([]byte("foo")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := s.Write([]byte("bar")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := string(s.Bytes()); got != "foobar" {
		t.Errorf("Bytes() = %q, want %q", got, "foobar")
	}
}

func TestStreamReleaseThenWriteIsNoop(t *testing.T) {
	streams := NewStreamFactory()
	s := streams.NewStream()
	s.Release()

	n, err := s.Write([]byte("x"))
	if err != nil {
		t.Fatalf("Write() after Release error = %v", err)
	}
	if n != 0 {
		t.Errorf("Write() after Release returned n = %d, want 0", n)
	}
	if s.Bytes() != nil {
		t.Errorf("Bytes() after Release = %v, want nil", s.Bytes())
	}
}

func TestStreamFactoryReusesBuffers(t *testing.T) {
	streams := NewStreamFactory()
	s1 := streams.NewStream()
	if _, err := s1.Write([]byte("stale content")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	s1.Release()

	s2 := streams.NewStream()
	if len(s2.Bytes()) != 0 {
		t.Errorf("Bytes() on freshly allocated stream = %q, want empty (buffer must be reset)", s2.Bytes())
	}
}
