package recall

import (
	"reflect"
	"testing"

	"github.com/rushteam/movierec/core"
)

func TestPreferredLocales(t *testing.T) {
	mv := func(langs ...string) []*core.Movie {
		out := make([]*core.Movie, len(langs))
		for i, l := range langs {
			out[i] = &core.Movie{ID: int64(i + 1), Language: l}
		}
		return out
	}
	tests := []struct {
		name    string
		history []*core.Movie
		k       int
		want    []string
	}{
		{"no history", nil, 2, nil},
		{"single locale", mv("en", "en"), 2, []string{"en"}},
		{"top two by count", mv("en", "fr", "fr", "ko", "ko", "ko"), 2, []string{"ko", "fr"}},
		{"ties by tag", mv("ko", "fr", "en"), 2, []string{"en", "fr"}},
		{"empty tags ignored", mv("", "", "ja"), 2, []string{"ja"}},
		{"k zero", mv("en"), 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PreferredLocales(tt.history, tt.k); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PreferredLocales() = %v, want %v", got, tt.want)
			}
		})
	}
}
