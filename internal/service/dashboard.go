package service

import (
	"context"
	"time"

	"valve_dashboard/internal/session"
	"valve_dashboard/internal/valve"
)

type DashboardService struct {
	dash *session.Dashboard
	now  func() time.Time
}

func NewDashboardService(dash *session.Dashboard, now func() time.Time) *DashboardService {
	if now == nil {
		now = time.Now
	}
	return &DashboardService{dash: dash, now: now}
}

func (s *DashboardService) View(ctx context.Context) (session.View, error) {
	if err := ctx.Err(); err != nil {
		return session.View{}, err
	}
	return s.dash.View(s.now())
}

func (s *DashboardService) Retry(ctx context.Context) error {
	return s.dash.Retry()
}

// Reload builds a fresh session. Its polls outlive the request, so the
// request context only contributes values.
func (s *DashboardService) Reload(ctx context.Context) error {
	return s.dash.Reload(context.WithoutCancel(ctx))
}

func (s *DashboardService) Toggle(ctx context.Context, id string, wait bool) (valve.State, error) {
	done, err := s.dash.Toggle(ctx, id)
	if err != nil {
		return valve.State{}, err
	}
	return s.settle(ctx, id, done, wait)
}

func (s *DashboardService) Command(ctx context.Context, id string, target valve.Position, wait bool) (valve.State, error) {
	done, err := s.dash.Command(ctx, id, target)
	if err != nil {
		return valve.State{}, err
	}
	return s.settle(ctx, id, done, wait)
}

// settle returns the final state when wait is set and it arrives before
// ctx ends; otherwise the current (usually pending) state.
func (s *DashboardService) settle(ctx context.Context, id string, done <-chan valve.State, wait bool) (valve.State, error) {
	if wait {
		select {
		case st, ok := <-done:
			if ok {
				return st, nil
			}
		case <-ctx.Done():
		}
	}
	return s.dash.ValveState(id)
}
