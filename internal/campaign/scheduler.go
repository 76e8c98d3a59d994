package campaign

import (
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"sendpilot/internal/store"
	"sendpilot/internal/variation"
)

// ErrNoRecipients is returned when a campaign's filter matches no contacts.
var ErrNoRecipients = errors.New("campaign filter matched no recipients")

// Scheduler turns a campaign plus the owner's roster into a paced queue:
// randomized per-message gaps and a longer pause after every full batch, so
// the send pattern never looks machine-regular.
type Scheduler struct {
	vary *variation.Engine
	rng  *rand.Rand
}

func NewScheduler(vary *variation.Engine, rng *rand.Rand) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{vary: vary, rng: rng}
}

// Build resolves the filter against contacts and returns the queue items,
// scheduled starting at now. Recipient order follows the roster order.
func (s *Scheduler) Build(c *store.Campaign, contacts []store.Contact, now time.Time) ([]store.QueueItem, error) {
	var recipients []store.Contact
	for _, ct := range contacts {
		if ct.Failed {
			// A prior hard delivery failure excludes the contact until
			// the operator clears the flag.
			continue
		}
		if MatchesFilter(ct, c.Filter, now) {
			recipients = append(recipients, ct)
		}
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	set := c.Settings
	items := make([]store.QueueItem, 0, len(recipients))
	offset := time.Duration(0)
	batch := 0
	for i, ct := range recipients {
		if i > 0 {
			if set.BatchSize > 0 && batch >= set.BatchSize {
				offset += time.Duration(set.BatchPauseMin) * time.Minute
				batch = 0
			} else {
				offset += s.delay(set)
			}
		}
		batch++

		body := s.vary.Render(c.Template, c.Variations, variation.Fields{
			Name:    ct.Name,
			Company: ct.Company,
			Phone:   ct.Phone,
			Email:   ct.Email,
		})
		items = append(items, store.QueueItem{
			ID:          uuid.NewString(),
			CampaignID:  c.ID,
			ContactID:   ct.ID,
			OwnerID:     c.OwnerID,
			Message:     body,
			Target:      ct.Phone,
			ScheduledAt: now.Add(offset),
			Status:      store.ItemPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return items, nil
}

// delay picks the inter-message gap inside [MinDelaySec, MaxDelaySec].
func (s *Scheduler) delay(set store.SendSettings) time.Duration {
	min, max := set.MinDelaySec, set.MaxDelaySec
	if max <= min {
		return time.Duration(min) * time.Second
	}
	if !set.Randomize {
		return time.Duration(min) * time.Second
	}
	return time.Duration(min+s.rng.Intn(max-min+1)) * time.Second
}

// MatchesFilter reports whether a contact passes the campaign filter.
// Zero-valued filter fields do not constrain.
func MatchesFilter(c store.Contact, f store.Filter, now time.Time) bool {
	if len(f.Statuses) > 0 && !containsString(f.Statuses, c.Status) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, c.Source) {
		return false
	}
	if len(f.Languages) > 0 && !containsString(f.Languages, c.Language) {
		return false
	}
	if len(f.Tags) > 0 && !anyOverlap(f.Tags, c.Tags) {
		return false
	}
	if f.MinIntent > 0 && c.PurchaseIntent < f.MinIntent {
		return false
	}
	if f.MaxIntent > 0 && c.PurchaseIntent > f.MaxIntent {
		return false
	}
	if f.MinSatisfaction > 0 && c.Satisfaction < f.MinSatisfaction {
		return false
	}
	if f.HasEmail && c.Email == "" {
		return false
	}
	if f.NotContactedFor != "" {
		d, err := time.ParseDuration(f.NotContactedFor)
		if err == nil && d > 0 && c.LastContactAt != nil && now.Sub(*c.LastContactAt) < d {
			return false
		}
	}
	return true
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
