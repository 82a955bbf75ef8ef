package registry

import (
	"errors"
	"reflect"
	"testing"

	pkgerrors "github.com/flotilla-dev/flotilla/pkg/errors"
)

func TestFindCandidates(t *testing.T) {
	tests := []struct {
		name     string
		register map[string][]string
		required []string
		want     []string
		wantErr  error
	}{
		{
			name: "superset match only",
			register: map[string][]string{
				"a": {"x", "y"},
				"b": {"x"},
				"c": {"y", "z"},
			},
			required: []string{"x"},
			want:     []string{"a", "b"},
		},
		{
			name: "intersection of two capabilities",
			register: map[string][]string{
				"a": {"x", "y"},
				"b": {"x"},
				"c": {"x", "y", "z"},
			},
			required: []string{"x", "y"},
			want:     []string{"a", "c"},
		},
		{
			name: "no candidates is not an error",
			register: map[string][]string{
				"a": {"x"},
			},
			required: []string{"q"},
			want:     nil,
		},
		{
			name:     "empty required set rejected",
			register: map[string][]string{},
			required: nil,
			wantErr:  pkgerrors.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			for id, caps := range tt.register {
				r.Register(id, caps)
			}

			got, err := r.FindCandidates(tt.required)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}

				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected candidates %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSupersetInvariant(t *testing.T) {
	r := New()
	r.Register("a", []string{"x", "y", "z"})
	r.Register("b", []string{"x", "z"})
	r.Register("c", []string{"z"})

	required := []string{"x", "z"}
	got, err := r.FindCandidates(required)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, id := range got {
		caps := r.Capabilities(id)
		for _, c := range required {
			found := false
			for _, have := range caps {
				if have == c {
					found = true

					break
				}
			}
			if !found {
				t.Errorf("worker %s returned without required capability %s", id, c)
			}
		}
	}
}

func TestRegisterReplacesPreviousEntries(t *testing.T) {
	r := New()
	r.Register("a", []string{"x", "y"})
	r.Register("a", []string{"z"})

	got, err := r.FindCandidates([]string{"x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected stale capability index to be gone, got %v", got)
	}

	got, err = r.FindCandidates([]string{"z"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("expected [a], got %v", got)
	}
}

func TestIndexConsistencyRoundTrip(t *testing.T) {
	r := New()

	// An arbitrary register/unregister sequence; the live index must
	// afterwards equal the index rebuilt from the worker records.
	r.Register("a", []string{"x", "y"})
	r.Register("b", []string{"y"})
	r.Register("c", []string{"x", "z"})
	r.Unregister("b")
	r.Register("a", []string{"y", "z"})
	r.Register("d", []string{"x"})
	r.Unregister("missing")

	rebuilt := New()
	for _, id := range []string{"a", "c", "d"} {
		rebuilt.Register(id, r.Capabilities(id))
	}

	if !reflect.DeepEqual(r.Snapshot(), rebuilt.Snapshot()) {
		t.Errorf("live index diverged from rebuilt index:\nlive:    %v\nrebuilt: %v",
			r.Snapshot(), rebuilt.Snapshot())
	}

	if r.Len() != 3 {
		t.Errorf("expected 3 registered workers, got %d", r.Len())
	}
}

func TestUnregisterRemovesAllEntries(t *testing.T) {
	r := New()
	r.Register("a", []string{"x", "y"})
	r.Unregister("a")

	for _, c := range []string{"x", "y"} {
		got, err := r.FindCandidates([]string{c})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("capability %s still indexes unregistered worker: %v", c, got)
		}
	}

	if cov := r.Coverage(); len(cov) != 0 {
		t.Errorf("expected empty coverage, got %v", cov)
	}
}
