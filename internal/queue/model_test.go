package queue

import "testing"

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"LOW", PriorityLow, false},
		{"normal", PriorityNormal, false},
		{" High ", PriorityHigh, false},
		{"URGENT", PriorityUrgent, false},
		{"CRITICAL", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePriority(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePriority(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !(PriorityLow < PriorityNormal && PriorityNormal < PriorityHigh && PriorityHigh < PriorityUrgent) {
		t.Fatal("priority ordinals out of order")
	}
	if Priority(7).Valid() {
		t.Fatal("out-of-range priority reported valid")
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusRunning},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusFailed, StatusRetrying},
		{StatusFailed, StatusDeadLettered},
		{StatusRetrying, StatusRunning},
	}
	for _, tt := range allowed {
		if !canTransition(tt.from, tt.to) {
			t.Errorf("%s -> %s should be allowed", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusCompleted, StatusRunning},
		{StatusCompleted, StatusCompleted},
		{StatusDeadLettered, StatusRetrying},
		{StatusDeadLettered, StatusRunning},
		{StatusRetrying, StatusCompleted},
		{StatusFailed, StatusRunning},
	}
	for _, tt := range denied {
		if canTransition(tt.from, tt.to) {
			t.Errorf("%s -> %s should be rejected", tt.from, tt.to)
		}
	}
}

func TestTierKeys(t *testing.T) {
	if got := tierKey(PriorityHigh); got != "queue:HIGH" {
		t.Fatalf("tierKey(HIGH) = %q, want queue:HIGH", got)
	}
	if got := metaKey("abc"); got != "meta:abc" {
		t.Fatalf("metaKey = %q, want meta:abc", got)
	}
	if deadLetterList != "queue:dead_letter" {
		t.Fatalf("dead letter list = %q", deadLetterList)
	}
}
