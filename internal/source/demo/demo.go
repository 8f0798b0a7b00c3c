// Package demo provides an in-memory EventSource that invents CRM activity.
// It backs `crmnotify --demo` and lets the views run without a backend.
package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/source"
)

// Source holds generated rows in memory and signals subscribers whenever a
// row is added.
type Source struct {
	userID string
	now    func() time.Time

	mu          sync.Mutex
	rows        []model.EventRow
	subscribers map[int]func()
	nextSub     int
}

var _ source.EventSource = (*Source)(nil)

// New creates an empty demo source for userID.
func New(userID string) *Source {
	return &Source{
		userID:      userID,
		now:         time.Now,
		subscribers: make(map[int]func()),
	}
}

// Add inserts row (filling in id, user and timestamp when empty) and
// notifies subscribers. It returns the stored row.
func (s *Source) Add(row model.EventRow) model.EventRow {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.UserID == "" {
		row.UserID = s.userID
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	s.rows = append(s.rows, row)
	subs := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	return row
}

// Rows returns a copy of every stored row.
func (s *Source) Rows() []model.EventRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rows)
}

// FetchUnread returns the user's unread rows, newest first.
func (s *Source) FetchUnread(_ context.Context) ([]model.EventRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.EventRow
	for _, r := range s.rows {
		if r.UserID == s.userID && !r.Read {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b model.EventRow) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// MarkRead flags the row as read. Unknown ids are ignored.
func (s *Source) MarkRead(_ context.Context, rowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rows {
		if s.rows[i].ID == rowID {
			s.rows[i].Read = true
		}
	}
	return nil
}

// Subscribe calls onChange after every Add until ctx is done.
func (s *Source) Subscribe(ctx context.Context, onChange func()) error {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = onChange
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
	return ctx.Err()
}

// Run adds a random row every interval until ctx is done.
func (s *Source) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Add(Random())
		}
	}
}

var (
	people = []string{"Ana Souza", "Bruno Lima", "Carla Mendes", "Diego Rocha", "Elisa Prado"}
	goals  = []string{"Monthly revenue", "New distributors", "Visits per week"}
)

// Random invents one plausible event row.
func Random() model.EventRow {
	person := people[rand.IntN(len(people))]
	entity := uuid.New().String()[:8]

	switch rand.IntN(5) {
	case 0:
		return model.EventRow{
			Type:     model.KindVisit,
			EntityID: entity,
			Message:  fmt.Sprintf("%s scheduled a visit", person),
		}
	case 1:
		return model.EventRow{
			Type:     model.KindSale,
			EntityID: entity,
			Message:  fmt.Sprintf("%s closed a sale", person),
			Metadata: map[string]any{"amount": float64(100 + rand.IntN(9900))},
		}
	case 2:
		return model.EventRow{
			Type:     model.KindGoal,
			EntityID: entity,
			Message:  "Team target hit",
			Metadata: map[string]any{"goal_name": goals[rand.IntN(len(goals))]},
		}
	case 3:
		return model.EventRow{
			Type:     model.KindDistributor,
			EntityID: entity,
			Message:  fmt.Sprintf("%s joined as a distributor", person),
		}
	default:
		return model.EventRow{
			Type:     model.KindGraduate,
			EntityID: entity,
			Message:  fmt.Sprintf("%s graduated", person),
		}
	}
}
