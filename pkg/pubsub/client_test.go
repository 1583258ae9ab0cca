package pubsub

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/resale-ledger/pkg/config"
)

func TestResourceNames(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{resourceName("proj", "topics", "ledger-events"), "projects/proj/topics/ledger-events"},
		{resourceName("proj", "topics", "projects/other/topics/x"), "projects/other/topics/x"},
		{resourceName("", "topics", "ledger-events"), ""},
		{resourceName("proj", "topics", "  "), ""},
		{resourceName("proj", "subscriptions", "ledger-sub"), "projects/proj/subscriptions/ledger-sub"},
		{resourceName("proj", "subscriptions", "projects/p/subscriptions/s"), "projects/p/subscriptions/s"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("got %q want %q", tc.got, tc.want)
		}
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{DomainTopic: "t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil); err != errTopicRequired {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil {
		t.Fatal("nil client should return nil handles")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on nil client")
	}
}

func TestResourceErrorMapsNotFound(t *testing.T) {
	if err := resourceError("topic", "t", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	err := resourceError("topic", "t", status.Error(codes.NotFound, "gone"))
	if err == nil || err.Error() != `topic "t" does not exist` {
		t.Fatalf("unexpected not found error %v", err)
	}
	cause := status.Error(codes.Unavailable, "down")
	if err := resourceError("subscription", "s", cause); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}
