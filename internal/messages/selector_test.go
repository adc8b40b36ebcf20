package messages

import (
	"testing"

	"github.com/foxzi/reengage/internal/models"
)

func TestCatalogIntegrity(t *testing.T) {
	seen := make(map[string]bool)
	for _, v := range All() {
		if seen[v.ID] {
			t.Errorf("duplicate variant id %q", v.ID)
		}
		seen[v.ID] = true

		if v.Level < 1 || v.Level > MaxLevel {
			t.Errorf("variant %q has level %d", v.ID, v.Level)
		}
		if v.Title == "" || v.Body == "" || v.URLTemplate == "" {
			t.Errorf("variant %q has empty text", v.ID)
		}
	}

	// Every level must have something for a user we know nothing about
	for level := 1; level <= MaxLevel; level++ {
		if len(AvailableVariants(level, &models.UserData{}, nil)) == 0 {
			t.Errorf("level %d has no unconditional variant", level)
		}
	}
}

func TestVariantsByType(t *testing.T) {
	for _, v := range VariantsByType(models.TypeEducational) {
		if v.Type != models.TypeEducational {
			t.Errorf("VariantsByType returned %q of type %q", v.ID, v.Type)
		}
	}
	if len(VariantsByType("unknown")) != 0 {
		t.Error("VariantsByType(unknown) should be empty")
	}
}

func TestCheckConditions(t *testing.T) {
	course := []models.CompletedCourse{{ID: "c1", Name: "Основы", Rating: 5}}

	tests := []struct {
		name string
		cond *models.Conditions
		data *models.UserData
		want bool
	}{
		{"no conditions", nil, &models.UserData{}, true},
		{"no conditions nil data", nil, nil, true},
		{"dog required present", &models.Conditions{RequiresDogName: true}, &models.UserData{DogName: "Рекс"}, true},
		{"dog required missing", &models.Conditions{RequiresDogName: true}, &models.UserData{}, false},
		{"courses required present", &models.Conditions{RequiresCompletedCourses: true}, &models.UserData{CompletedCourses: course}, true},
		{"courses required missing", &models.Conditions{RequiresCompletedCourses: true}, &models.UserData{}, false},
		{"min steps boundary", &models.Conditions{MinSteps: 10}, &models.UserData{TotalSteps: 10}, true},
		{"min steps below", &models.Conditions{MinSteps: 10}, &models.UserData{TotalSteps: 9}, false},
		{"max steps boundary", &models.Conditions{MaxSteps: 9}, &models.UserData{TotalSteps: 9}, true},
		{"max steps above", &models.Conditions{MaxSteps: 9}, &models.UserData{TotalSteps: 10}, false},
		{"combined", &models.Conditions{RequiresCompletedCourses: true, MinSteps: 20}, &models.UserData{CompletedCourses: course, TotalSteps: 19}, false},
		{"conditions nil data", &models.Conditions{MinSteps: 1}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := models.MessageVariant{ID: "x", Conditions: tt.cond}
			if got := CheckConditions(v, tt.data); got != tt.want {
				t.Errorf("CheckConditions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAvailableVariantsExcludes(t *testing.T) {
	data := &models.UserData{DogName: "Рекс", TotalSteps: 12}
	all := AvailableVariants(1, data, nil)
	if len(all) < 2 {
		t.Fatalf("expected at least 2 level-1 variants, got %d", len(all))
	}

	rest := AvailableVariants(1, data, []string{all[0].ID})
	if len(rest) != len(all)-1 {
		t.Fatalf("len = %d, want %d", len(rest), len(all)-1)
	}
	for _, v := range rest {
		if v.ID == all[0].ID {
			t.Errorf("excluded variant %q returned", v.ID)
		}
	}
}

func TestSelectNeverRepeatsWhileUnseenRemain(t *testing.T) {
	data := &models.UserData{DogName: "Рекс", TotalSteps: 12}
	eligible := AvailableVariants(1, data, nil)

	for seed := uint64(0); seed < 20; seed++ {
		s := NewSeededSelector(seed)
		var sent []string
		for i := 0; i < len(eligible); i++ {
			v := s.Select(1, data, sent)
			if v == nil {
				t.Fatal("Select() returned nil")
			}
			for _, id := range sent {
				if id == v.ID {
					t.Fatalf("seed %d: variant %q repeated with unseen variants left", seed, v.ID)
				}
			}
			sent = append(sent, v.ID)
		}
	}
}

func TestSelectFallsBackToRepetition(t *testing.T) {
	data := &models.UserData{}
	var sent []string
	for _, v := range AvailableVariants(2, data, nil) {
		sent = append(sent, v.ID)
	}

	v := NewSeededSelector(1).Select(2, data, sent)
	if v == nil {
		t.Fatal("Select() = nil, want a repeated variant")
	}
	if v.Level != 2 {
		t.Errorf("Level = %d, want 2", v.Level)
	}
}

func TestSelectNoneEligible(t *testing.T) {
	if v := NewSeededSelector(1).Select(7, &models.UserData{}, nil); v != nil {
		t.Errorf("Select(unknown level) = %q, want nil", v.ID)
	}
}

type fixedSource int

func (f fixedSource) IntN(n int) int { return int(f) % n }

func TestSelectUsesSource(t *testing.T) {
	data := &models.UserData{}
	available := AvailableVariants(3, data, nil)

	v := NewSelector(fixedSource(1)).Select(3, data, nil)
	if v == nil || v.ID != available[1].ID {
		t.Errorf("Select() = %v, want %q", v, available[1].ID)
	}
}

func TestSeededSelectorIsDeterministic(t *testing.T) {
	data := &models.UserData{DogName: "Рекс", TotalSteps: 30}
	a := NewSeededSelector(42)
	b := NewSeededSelector(42)
	for i := 0; i < 10; i++ {
		va := a.Select(1, data, nil)
		vb := b.Select(1, data, nil)
		if va.ID != vb.ID {
			t.Fatalf("iteration %d: %q != %q", i, va.ID, vb.ID)
		}
	}
}
