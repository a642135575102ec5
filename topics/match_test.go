// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"testing"

	"github.com/absmach/relaymq/topics"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+/c", "a/b/c", true},
		{"a/+", "a/b/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a", false},
		{"a/#", "a/b/c", true},
		{"a/#", "a/b", true},
		{"a/#", "a", true},
		{"+/+", "x/y", true},
		{"+/+", "x", false},
		{"+/+", "x/y/z", false},
		{"#", "anything", true},
		{"#", "a/b/c", true},
		{"sensors/+/temperature", "sensors/kitchen/temperature", true},
		{"sensors/+/temperature", "sensors/kitchen/humidity", false},
		{"$SYS/relay/stats", "$SYS/relay/stats", true},
		{"$SYS/#", "$SYS/relay/stats", true},
		{"#", "$SYS/relay/stats", false},
		{"+/relay/stats", "$SYS/relay/stats", false},
		{"", "a", false},
		{"a", "", false},
	}

	for _, tt := range tests {
		if got := topics.Match(tt.filter, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}
