package transfer

import (
	"context"
	"errors"
	"testing"
)

func TestFetchAllDrainsSequentially(t *testing.T) {
	pages := map[string]Page[int]{
		"":   {Items: []int{1, 2}, Next: "p2"},
		"p2": {Items: []int{3, 4}, Next: "p3"},
		"p3": {Items: []int{5}},
	}
	var cursors []string

	got, err := FetchAll(context.Background(), func(_ context.Context, cursor string) (Page[int], error) {
		cursors = append(cursors, cursor)
		return pages[cursor], nil
	})
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}

	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("FetchAll = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	wantCursors := []string{"", "p2", "p3"}
	for i := range wantCursors {
		if cursors[i] != wantCursors[i] {
			t.Errorf("cursor[%d] = %q, want %q", i, cursors[i], wantCursors[i])
		}
	}
}

func TestFetchAllPageErrorAbortsListing(t *testing.T) {
	boom := errors.New("page 2 unavailable")
	calls := 0

	got, err := FetchAll(context.Background(), func(_ context.Context, cursor string) (Page[string], error) {
		calls++
		if cursor == "" {
			return Page[string]{Items: []string{"a"}, Next: "p2"}, nil
		}
		return Page[string]{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("FetchAll error = %v, want %v", err, boom)
	}
	if got != nil {
		t.Errorf("FetchAll returned partial results %v on error", got)
	}
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
}

func TestFetchAllHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchAll(ctx, func(_ context.Context, cursor string) (Page[int], error) {
		t.Fatal("fetch called after cancellation")
		return Page[int]{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchAll error = %v, want context.Canceled", err)
	}
}

func TestFetchAllEmptyListing(t *testing.T) {
	got, err := FetchAll(context.Background(), func(_ context.Context, cursor string) (Page[int], error) {
		return Page[int]{}, nil
	})
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("FetchAll = %v, want empty", got)
	}
}
