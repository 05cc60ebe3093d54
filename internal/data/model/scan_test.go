package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestStringListValue tests database serialization of StringList.
func TestStringListValue(t *testing.T) {
	tests := []struct {
		name string
		list StringList
		want interface{}
	}{
		{name: "empty list serializes to nil", list: nil, want: nil},
		{name: "values serialize to JSON", list: StringList{"a", "b"}, want: `["a","b"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.list.Value()
			if err != nil {
				t.Fatalf("Value() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Value() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestStringListScan tests database deserialization of StringList.
func TestStringListScan(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    StringList
		wantErr bool
	}{
		{name: "nil stays nil", value: nil, want: nil},
		{name: "bytes", value: []byte(`["x","y"]`), want: StringList{"x", "y"}},
		{name: "string", value: `["x"]`, want: StringList{"x"}},
		{name: "unsupported type", value: 42, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got StringList
			err := got.Scan(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Scan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Scan() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
