package actorctx

import (
	"context"
	"testing"
)

func TestUserIDRoundTrip(t *testing.T) {
	if _, ok := UserIDFrom(context.Background()); ok {
		t.Fatal("empty context should carry no user")
	}

	ctx := WithUserID(context.Background(), 42)
	id, ok := UserIDFrom(ctx)
	if !ok || id != 42 {
		t.Fatalf("got (%d, %v), want (42, true)", id, ok)
	}

	if _, ok := UserIDFrom(WithUserID(context.Background(), 0)); ok {
		t.Fatal("zero id must not count as an actor")
	}
}
