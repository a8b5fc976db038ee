package health

import (
	"math"
	"testing"
	"time"
)

func TestScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cpu   float64
		mem   float64
		since time.Duration
		want  float64
	}{
		{name: "idle host", cpu: 10, mem: 30, since: 0, want: 100},
		{name: "at the knee", cpu: 80, mem: 80, since: 60 * time.Second, want: 100},
		{name: "cpu pressure", cpu: 90, mem: 50, want: 80},
		{name: "cpu and memory", cpu: 90, mem: 95, want: 50},
		{name: "inactive", cpu: 0, mem: 0, since: 160 * time.Second, want: 90},
		{name: "clamped", cpu: 100, mem: 100, since: time.Hour, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Score(tt.cpu, tt.mem, tt.since); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Score=%v want %v", got, tt.want)
			}
		})
	}
}

func TestScoreIsMonotone(t *testing.T) {
	t.Parallel()
	prev := Score(0, 50, 0)
	for cpu := 1.0; cpu <= 100; cpu++ {
		s := Score(cpu, 50, 0)
		if s > prev {
			t.Fatalf("score increased with cpu %v: %v > %v", cpu, s, prev)
		}
		if s < 0 || s > 100 {
			t.Fatalf("score out of range: %v", s)
		}
		prev = s
	}
	prev = Score(50, 50, 0)
	for sec := 0; sec < 2000; sec += 10 {
		s := Score(50, 50, time.Duration(sec)*time.Second)
		if s > prev {
			t.Fatalf("score increased with inactivity %ds", sec)
		}
		prev = s
	}
}
