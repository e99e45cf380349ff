package notification

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerNotifierRedactsCodes(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := n.Send(context.Background(), Message{Kind: KindVerificationCode, Destination: "+2348000000000", Body: "123456"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(buf.String(), "123456") {
		t.Fatalf("code leaked into log: %s", buf.String())
	}
}

func TestRecorderFiltersByKind(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	_ = r.Send(ctx, Message{Kind: KindEscrowHeld, Destination: "s"})
	_ = r.Send(ctx, Message{Kind: KindEscrowReleased, Destination: "s"})

	if got := len(r.Messages(KindEscrowReleased)); got != 1 {
		t.Fatalf("expected 1 released message, got %d", got)
	}
	if got := len(r.Messages("")); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
}
