package cmd

import (
	"testing"

	"github.com/Tiliavir/nark/internal/model"
)

func TestStopMessage(t *testing.T) {
	tests := []struct {
		fact model.Fact
		want string
	}{
		{
			model.Fact{Start: clock(9, 0), End: clock(9, 0), Activity: "blip", Category: "x"},
			`Stopped "blip@x" at 09:00. Elapsed: 0s`,
		},
		{
			model.Fact{Start: clock(9, 0), End: clock(9, 45), Activity: "standup", Category: "work"},
			`Stopped "standup@work" at 09:45. Elapsed: 45m 0s`,
		},
		{
			model.Fact{Start: clock(8, 30), End: clock(17, 5), Activity: "coding"},
			`Stopped "coding@" at 17:05. Elapsed: 8h 35m 0s`,
		},
	}
	for _, tt := range tests {
		if got := stopMessage(tt.fact); got != tt.want {
			t.Errorf("stopMessage(%s) = %q, want %q", tt.fact, got, tt.want)
		}
	}
}
