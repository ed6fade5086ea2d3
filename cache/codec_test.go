package cache

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/restward/restward/entity"
)

type fakeTarget struct{ u *url.URL }

func (t fakeTarget) URL() *url.URL { return t.u }

func TestDefaultKey(t *testing.T) {
	u, _ := url.Parse("https://api.example.com/items/1?page=2")
	key, ok := DefaultKey(fakeTarget{u: u})
	if !ok || key != "https://api.example.com/items/1?page=2" {
		t.Errorf("DefaultKey = %q, %v", key, ok)
	}

	if _, ok := DefaultKey(fakeTarget{}); ok {
		t.Error("nil URL should yield no key")
	}
}

func TestEncodeDecode_PreservesContentKinds(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	for name, content := range map[string]any{
		"bytes": []byte{0x1, 0x2, 0x3},
		"text":  "café au lait",
		"json":  map[string]any{"n": float64(3), "ok": true},
	} {
		t.Run(name, func(t *testing.T) {
			ent := &entity.Entity{
				Content:     content,
				ContentType: "application/json",
				ETag:        `"abc"`,
				Headers:     headers,
				Timestamp:   ts,
			}
			raw, err := EncodeEntity(ent)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeEntity(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.ContentType != "application/json" || got.ETag != `"abc"` {
				t.Errorf("metadata lost: %+v", got)
			}
			if !got.Timestamp.Equal(ts) {
				t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
			}
			switch want := content.(type) {
			case []byte:
				b, ok := got.Content.([]byte)
				if !ok || string(b) != string(want) {
					t.Errorf("Content = %v", got.Content)
				}
			case string:
				if got.Content != want {
					t.Errorf("Content = %v", got.Content)
				}
			default:
				m, ok := got.Content.(map[string]any)
				if !ok || m["n"] != float64(3) || m["ok"] != true {
					t.Errorf("Content = %v", got.Content)
				}
			}
		})
	}
}

func TestEncodeEntity_RejectsUnencodableContent(t *testing.T) {
	ent := &entity.Entity{Content: make(chan int), Headers: http.Header{}}
	if _, err := EncodeEntity(ent); err == nil {
		t.Error("channel content encoded without error")
	}
}

func TestDecodeEntity_RejectsUnknownKind(t *testing.T) {
	if _, err := DecodeEntity([]byte(`{"kind":"protobuf"}`)); err == nil {
		t.Error("unknown kind decoded without error")
	}
	if _, err := DecodeEntity([]byte(`not json`)); err == nil {
		t.Error("malformed record decoded without error")
	}
}
