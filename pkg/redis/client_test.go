package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewClientFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClientFromURL(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if err := (Pinger{Client: client}).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestNewClientFromURLErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"bad scheme", "http://localhost:6379"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClientFromURL(context.Background(), tt.url); err == nil {
				t.Fatalf("expected error for %q", tt.url)
			}
		})
	}
}

func TestNewClientFromURLUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewClientFromURL(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("expected ping failure against closed server")
	}
}
