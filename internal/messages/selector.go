package messages

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/foxzi/reengage/internal/models"
)

// CheckConditions reports whether a variant may be sent to the user.
// A variant without conditions is always eligible.
func CheckConditions(v models.MessageVariant, data *models.UserData) bool {
	c := v.Conditions
	if c == nil {
		return true
	}
	if data == nil {
		return false
	}

	if c.RequiresDogName && data.DogName == "" {
		return false
	}
	if c.RequiresCompletedCourses && len(data.CompletedCourses) == 0 {
		return false
	}
	if c.MinSteps > 0 && data.TotalSteps < c.MinSteps {
		return false
	}
	if c.MaxSteps > 0 && data.TotalSteps > c.MaxSteps {
		return false
	}

	return true
}

// AvailableVariants returns the eligible variants of a level minus excluded IDs
func AvailableVariants(level int, data *models.UserData, excludeIDs []string) []models.MessageVariant {
	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	var out []models.MessageVariant
	for _, v := range VariantsByLevel(level) {
		if _, skip := excluded[v.ID]; skip {
			continue
		}
		if CheckConditions(v, data) {
			out = append(out, v)
		}
	}
	return out
}

// Source is the random source used for selection
type Source interface {
	IntN(n int) int
}

// Selector picks message variants at random
type Selector struct {
	mu  sync.Mutex
	rnd Source
}

// NewSelector creates a selector. A nil source is seeded from the clock.
func NewSelector(src Source) *Selector {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.New(rand.NewPCG(now, now>>32|1))
	}
	return &Selector{rnd: src}
}

// NewSeededSelector creates a selector with a deterministic sequence
func NewSeededSelector(seed uint64) *Selector {
	return NewSelector(rand.New(rand.NewPCG(seed, seed)))
}

// Select picks a variant the campaign has not sent yet. When every eligible
// variant was already sent it repeats one. Returns nil only when nothing at
// this level is eligible for the user.
func (s *Selector) Select(level int, data *models.UserData, sentIDs []string) *models.MessageVariant {
	available := AvailableVariants(level, data, sentIDs)
	if len(available) == 0 {
		available = AvailableVariants(level, data, nil)
	}
	if len(available) == 0 {
		return nil
	}

	s.mu.Lock()
	i := s.rnd.IntN(len(available))
	s.mu.Unlock()

	v := available[i]
	return &v
}
