package conv

import (
	"reflect"
	"testing"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{1.5, 1.5, true},
		{float32(2), 2, true},
		{int64(3), 3, true},
		{7, 7, true},
		{uint64(4), 4, true},
		{true, 1, true},
		{false, 0, true},
		{"1", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat64(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ToFloat64(%v) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestToInt64(t *testing.T) {
	if v, ok := ToInt64(3.9); !ok || v != 3 {
		t.Errorf("ToInt64(3.9) = %v, %v, want 3, true", v, ok)
	}
	if _, ok := ToInt64("3"); ok {
		t.Error("ToInt64(\"3\") should fail")
	}
}

func TestSortedKeysAndSet(t *testing.T) {
	if got, want := SortedKeys(map[int64]bool{9: true, 1: true, 2: false}), []int64{1, 2, 9}; !reflect.DeepEqual(got, want) {
		t.Errorf("SortedKeys() = %v, want %v", got, want)
	}
	if s := Set([]string{"a", "b", "a"}); len(s) != 2 {
		t.Errorf("len(Set()) = %d, want 2", len(s))
	}
	if got, want := Int64sToAny([]int64{1, 2}), []any{int64(1), int64(2)}; !reflect.DeepEqual(got, want) {
		t.Errorf("Int64sToAny() = %v, want %v", got, want)
	}
}
