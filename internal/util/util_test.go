package util

import (
	"testing"
	"unicode/utf8"
)

func TestContainsFold(t *testing.T) {
	tests := []struct {
		name     string
		slice    []string
		item     string
		expected bool
	}{
		{name: "exact match", slice: []string{"Notifier", "OrderManager"}, item: "Notifier", expected: true},
		{name: "case-insensitive match", slice: []string{"Notifier", "OrderManager"}, item: "ordermanager", expected: true},
		{name: "missing item", slice: []string{"Notifier"}, item: "Forecaster", expected: false},
		{name: "empty slice", slice: []string{}, item: "Notifier", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsFold(tt.slice, tt.item); got != tt.expected {
				t.Errorf("ContainsFold(%v, %q) = %v, want %v", tt.slice, tt.item, got, tt.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		maxLen        int
		preserveWords bool
		want          string
	}{
		{name: "short string untouched", input: "hello", maxLen: 10, want: "hello"},
		{name: "plain cut", input: "abcdefghijkl", maxLen: 8, want: "abcde..."},
		{name: "word boundary", input: "restock the warehouse today", maxLen: 16, preserveWords: true, want: "restock the..."},
		{name: "tiny limit", input: "abcdef", maxLen: 2, want: ".."},
		{name: "zero limit", input: "abcdef", maxLen: 0, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen, tt.preserveWords); got != tt.want {
				t.Errorf("TruncateString(%q, %d, %v) = %q, want %q", tt.input, tt.maxLen, tt.preserveWords, got, tt.want)
			}
		})
	}
}

func TestTruncateStringUTF8(t *testing.T) {
	input := "查询中文数据库中的用户信息"
	got := TruncateString(input, 10, false)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n > 10 {
		t.Fatalf("expected at most 10 runes, got %d", n)
	}
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"OrderManager":  "order_manager",
		"Notifier":      "notifier",
		"MCTSOptimizer": "mcts_optimizer",
		"DataHarvester": "data_harvester",
		"Order Manager": "order_manager",
		"forecaster":    "forecaster",
	}
	for in, want := range cases {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
