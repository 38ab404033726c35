package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kaustubhduse/support-agent/internal/memory"
	"github.com/kaustubhduse/support-agent/internal/tools"
)

type stubRouter struct {
	reply   string
	panic   bool
	seen    []string
	convIDs []string
	history int // messages stored when Route ran
	store   MessageStore
}

func (r *stubRouter) Route(ctx context.Context, message, conversationID string) string {
	r.seen = append(r.seen, message)
	r.convIDs = append(r.convIDs, tools.ConversationIDFromContext(ctx))
	if r.store != nil {
		msgs, _ := r.store.History(ctx, conversationID)
		r.history = len(msgs)
	}
	if r.panic {
		panic("handler exploded")
	}
	return r.reply
}

type failingStore struct {
	memory.MemoryStore
	failAfter int
	adds      int
}

func (f *failingStore) AddMessage(ctx context.Context, conversationID, role, content string) error {
	f.adds++
	if f.adds > f.failAfter {
		return errors.New("disk full")
	}
	return f.MemoryStore.AddMessage(ctx, conversationID, role, content)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleIncomingMessage(t *testing.T) {
	store := memory.NewStore()
	router := &stubRouter{reply: "Your order has shipped.", store: store}
	svc := NewService(store, router, discardLogger())
	ctx := context.Background()

	got := svc.HandleIncomingMessage(ctx, "c1", "Where is ORD123?")
	if got != "Your order has shipped." {
		t.Fatalf("reply = %q", got)
	}
	if router.history != 0 {
		t.Errorf("router saw %d stored messages, want 0", router.history)
	}
	if router.convIDs[0] != "c1" {
		t.Errorf("conversation ID in context = %q, want c1", router.convIDs[0])
	}

	msgs, err := svc.History(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "Where is ORD123?" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Your order has shipped." {
		t.Errorf("second message = %+v", msgs[1])
	}

	svc.HandleIncomingMessage(ctx, "c1", "Thanks")
	if router.history != 2 {
		t.Errorf("second turn: router saw %d stored messages, want 2", router.history)
	}
}

func TestHandleIncomingMessage_Failures(t *testing.T) {
	tests := []struct {
		name       string
		convID     string
		panic      bool
		failAfter  int
		want       string
		wantStored int
		wantRouted bool
	}{
		{name: "empty conversation ID", convID: "", failAfter: 10, want: InternalErrorReply},
		{name: "blank conversation ID", convID: "  ", failAfter: 10, want: InternalErrorReply},
		{name: "router panic", convID: "c1", panic: true, failAfter: 10, want: RoutingErrorReply, wantStored: 2, wantRouted: true},
		{name: "user message not stored", convID: "c1", failAfter: 0, want: InternalErrorReply, wantRouted: true},
		{name: "reply not stored", convID: "c1", failAfter: 1, want: InternalErrorReply, wantStored: 1, wantRouted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.NewStore()
			store := &failingStore{MemoryStore: mem, failAfter: tt.failAfter}
			router := &stubRouter{reply: "ok", panic: tt.panic}
			svc := NewService(store, router, discardLogger())

			got := svc.HandleIncomingMessage(context.Background(), tt.convID, "hello")
			if got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
			if routed := len(router.seen) > 0; routed != tt.wantRouted {
				t.Errorf("routed = %v, want %v", routed, tt.wantRouted)
			}
			msgs, _ := mem.History(context.Background(), tt.convID)
			if len(msgs) != tt.wantStored {
				t.Errorf("stored %d messages, want %d", len(msgs), tt.wantStored)
			}
			if tt.panic && len(msgs) == 2 && msgs[1].Content != RoutingErrorReply {
				t.Errorf("stored reply = %q, want the routing error text", msgs[1].Content)
			}
		})
	}
}
