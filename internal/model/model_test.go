package model

import (
	"testing"
	"time"
)

func TestParseMemoryGB(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"4g", 4, false},
		{"1g", 1, false},
		{"16g", 16, false},
		{"1024m", 1, false},
		{"512m", 1, false},  // rounds up, not 512 GB
		{"1025m", 2, false}, // rounds up
		{"2048m", 2, false},
		{"4", 0, true},
		{"4gb", 0, true},
		{"g", 0, true},
		{"-4g", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseMemoryGB(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMemoryGB(%q) = %d, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMemoryGB(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMemoryGB(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestValidMemory(t *testing.T) {
	for _, ok := range []string{"4g", "512m", "1g"} {
		if !ValidMemory(ok) {
			t.Errorf("ValidMemory(%q) = false", ok)
		}
	}
	for _, bad := range []string{"4", "4G", "4gb", "", "g4"} {
		if ValidMemory(bad) {
			t.Errorf("ValidMemory(%q) = true", bad)
		}
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := &Booking{StartTime: base, EndTime: base.Add(2 * time.Hour)}

	cases := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", base.Add(30 * time.Minute), base.Add(time.Hour), true},
		{"covers", base.Add(-time.Hour), base.Add(3 * time.Hour), true},
		{"left edge crossed", base.Add(-time.Hour), base.Add(time.Minute), true},
		{"right edge crossed", base.Add(time.Hour), base.Add(3 * time.Hour), true},
		{"ends at start", base.Add(-time.Hour), base, false},
		{"starts at end", base.Add(2 * time.Hour), base.Add(3 * time.Hour), false},
		{"disjoint before", base.Add(-2 * time.Hour), base.Add(-time.Hour), false},
	}
	for _, tc := range cases {
		if got := b.Overlaps(tc.start, tc.end); got != tc.want {
			t.Errorf("%s: Overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBookingTransitions(t *testing.T) {
	allowed := map[BookingStatus][]BookingStatus{
		BookingPending:  {BookingApproved, BookingRejected, BookingCancelled},
		BookingApproved: {BookingActive, BookingCancelled},
		BookingActive:   {BookingCompleted},
	}
	all := []BookingStatus{
		BookingPending, BookingApproved, BookingRejected,
		BookingActive, BookingCompleted, BookingCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, t2 := range allowed[from] {
				if t2 == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s → %s) = %v, want %v", from, to, got, want)
			}
		}
	}

	for _, s := range []BookingStatus{BookingRejected, BookingCompleted, BookingCancelled} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	for _, s := range []BookingStatus{BookingPending, BookingApproved, BookingActive} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
}

func TestParseEnums_RejectUnknown(t *testing.T) {
	if _, err := ParseUserRole("superuser"); err == nil {
		t.Error("ParseUserRole accepted unknown role")
	}
	if _, err := ParseAgentStatus("sleeping"); err == nil {
		t.Error("ParseAgentStatus accepted unknown status")
	}
	if _, err := ParseBookingStatus("done"); err == nil {
		t.Error("ParseBookingStatus accepted unknown status")
	}
}

func TestAgentAddr(t *testing.T) {
	a := &Agent{IP: "10.0.0.5", Port: 5000}
	if got := a.Addr(); got != "http://10.0.0.5:5000" {
		t.Errorf("Addr() = %q", got)
	}
}
