package models

import (
	"reflect"
	"testing"
	"time"
)

func TestNewDailyFromLabels(t *testing.T) {
	tests := []struct {
		name    string
		labels  []string
		want    []time.Weekday
		wantErr bool
	}{
		{"empty means every day", nil, nil, false},
		{"short labels", []string{"M", "W", "F"}, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, false},
		{"mixed forms and order", []string{"sat", "Th", "monday"}, []time.Weekday{time.Monday, time.Thursday, time.Saturday}, false},
		{"duplicates collapse", []string{"M", "mon", "Monday"}, []time.Weekday{time.Monday}, false},
		{"ambiguous s", []string{"S"}, nil, true},
		{"unknown", []string{"funday"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDailyFromLabels(tt.labels...)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewDailyFromLabels(%v) expected error", tt.labels)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDailyFromLabels(%v) unexpected error: %v", tt.labels, err)
			}
			if !reflect.DeepEqual(got.Days, tt.want) {
				t.Errorf("Days = %v, want %v", got.Days, tt.want)
			}
		})
	}
}

func TestDailyIncludes(t *testing.T) {
	every := Daily{}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if !every.Includes(wd) {
			t.Errorf("unrestricted daily should include %v", wd)
		}
	}

	mwf, _ := NewDailyFromLabels("M", "W", "F")
	if mwf.Includes(time.Tuesday) {
		t.Error("M/W/F should not include Tuesday")
	}
	if !mwf.Includes(time.Friday) {
		t.Error("M/W/F should include Friday")
	}
}

func TestNewWeekly(t *testing.T) {
	for _, n := range []int{0, 8, -1} {
		if _, err := NewWeekly(n); err == nil {
			t.Errorf("NewWeekly(%d) expected error", n)
		}
	}
	w, err := NewWeekly(3)
	if err != nil || w.TimesPerWeek != 3 {
		t.Errorf("NewWeekly(3) = %v, %v", w, err)
	}
}

func TestNewMonthly(t *testing.T) {
	m, err := NewMonthly([]int{15, 1, 15}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(m.Days, []int{1, 15}) || m.Count != 2 || m.Required() != 2 {
		t.Errorf("got %+v", m)
	}

	if _, err := NewMonthly([]int{1, 2}, 5); err == nil {
		t.Error("expected error when count disagrees with day set")
	}
	if _, err := NewMonthly([]int{32}, 0); err == nil {
		t.Error("expected error for day 32")
	}
	if _, err := NewMonthly(nil, 0); err == nil {
		t.Error("expected error for zero count without days")
	}

	m, err = NewMonthly(nil, 4)
	if err != nil || m.Required() != 4 {
		t.Errorf("NewMonthly(nil, 4) = %+v, %v", m, err)
	}
}

func TestDecodeFrequency(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		days    string
		count   int
		want    Frequency
		wantErr bool
	}{
		{"daily every day", "daily", "", 0, Daily{}, false},
		{"daily empty array", "daily", "[]", 0, Daily{}, false},
		{"daily days", "daily", `["M","F"]`, 0, Daily{Days: []time.Weekday{time.Monday, time.Friday}}, false},
		{"weekly", "weekly", "", 3, Weekly{TimesPerWeek: 3}, false},
		{"weekly with days rejected", "weekly", `["M"]`, 3, nil, true},
		{"monthly days", "monthly", `[1,15]`, 0, Monthly{Days: []int{1, 15}, Count: 2}, false},
		{"monthly count", "monthly", "", 10, Monthly{Count: 10}, false},
		{"daily bad label", "daily", `["X"]`, 0, nil, true},
		{"unknown kind", "hourly", "", 0, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var days []byte
			if tt.days != "" {
				days = []byte(tt.days)
			}
			got, err := DecodeFrequency(tt.kind, days, tt.count)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeFrequency() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeFrequency(t *testing.T) {
	daily, _ := NewDailyFromLabels("Su", "Th")
	monthly, _ := NewMonthly([]int{3, 9}, 0)
	for _, f := range []Frequency{daily, Daily{}, Weekly{TimesPerWeek: 5}, monthly} {
		kind, days, count, err := EncodeFrequency(f)
		if err != nil {
			t.Fatalf("EncodeFrequency(%v): %v", f, err)
		}
		back, err := DecodeFrequency(string(kind), days, count)
		if err != nil {
			t.Fatalf("DecodeFrequency(%s, %s, %d): %v", kind, days, count, err)
		}
		if !reflect.DeepEqual(back, f) {
			t.Errorf("round trip of %v gave %v", f, back)
		}
	}

	if _, _, _, err := EncodeFrequency(nil); err == nil {
		t.Error("EncodeFrequency(nil) expected error")
	}
}

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in      string
		want    Frequency
		wantErr bool
	}{
		{"daily", Daily{}, false},
		{" Daily ", Daily{}, false},
		{"daily:mon,wed,fri", Daily{Days: []time.Weekday{time.Monday, time.Wednesday, time.Friday}}, false},
		{"weekly:3", Weekly{TimesPerWeek: 3}, false},
		{"monthly:4", Monthly{Count: 4}, false},
		{"monthly:15,1", Monthly{Days: []int{1, 15}, Count: 2}, false},
		{"weekly", nil, true},
		{"weekly:8", nil, true},
		{"monthly:0", nil, true},
		{"monthly:1,x", nil, true},
		{"daily:funday", nil, true},
		{"hourly", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrequency(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseFrequency(%q) = %v, expected error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFrequency(%q) unexpected error: %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseFrequency(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}
