package chat

import "testing"

func TestDetectTrigger(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantGoal string
		wantOK   bool
	}{
		{"marker with goal", "@gro please restock the pantry", "please restock the pantry", true},
		{"marker at end", "can you help @gro", "can you help", true},
		{"bare marker", "@gro", "", true},
		{"marker mid-sentence", "hey @gro what should we cook", "hey what should we cook", true},
		{"marker before newline", "@gro\nsuggest dinner", "suggest dinner", true},
		{"no marker", "hello world", "", false},
		{"marker as prefix of longer word", "@groceries are low", "", false},
		{"longer word then real marker", "@groceries then @gro restock", "@groceries then restock", true},
		{"uppercase does not match", "@GRO restock", "", false},
		{"empty content", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig, ok := DetectTrigger(tt.content)
			if ok != tt.wantOK {
				t.Fatalf("DetectTrigger(%q) ok = %v, want %v", tt.content, ok, tt.wantOK)
			}
			if trig.Goal != tt.wantGoal {
				t.Errorf("DetectTrigger(%q) goal = %q, want %q", tt.content, trig.Goal, tt.wantGoal)
			}
		})
	}
}
