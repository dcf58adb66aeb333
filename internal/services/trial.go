package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/metrics"
	"github.com/rs/zerolog/log"
)

const DefaultTrialDuration = 14 * 24 * time.Hour

type TrialService struct {
	repo     Repository
	duration time.Duration
	now      func() time.Time
}

func NewTrialService(repo Repository, duration time.Duration, now func() time.Time) *TrialService {
	if duration <= 0 {
		duration = DefaultTrialDuration
	}
	if now == nil {
		now = time.Now
	}
	return &TrialService{repo: repo, duration: duration, now: now}
}

// Start begins the trial window for a fingerprint. Calling it again returns
// the original window; a fingerprint never gets a second trial.
func (s *TrialService) Start(ctx context.Context, fingerprint string) (dto.TrialStatus, bool, error) {
	if err := validateFingerprint(fingerprint); err != nil {
		return dto.TrialStatus{}, false, err
	}
	now := s.now().UTC()
	t, created, err := s.repo.InsertTrial(ctx, fingerprint, now, now.Add(s.duration))
	if err != nil {
		return dto.TrialStatus{}, false, fmt.Errorf("start trial: %w", err)
	}
	if created {
		metrics.TrialsStartedTotal.Inc()
		log.Info().Str("fingerprint", fingerprint).Time("expires_at", t.ExpiresAt).Msg("trial started")
	}
	return s.view(t), created, nil
}

func (s *TrialService) Status(ctx context.Context, fingerprint string) (dto.TrialStatus, error) {
	if err := validateFingerprint(fingerprint); err != nil {
		return dto.TrialStatus{}, err
	}
	t, err := s.repo.GetTrial(ctx, fingerprint)
	if errors.Is(err, db.ErrNotFound) {
		return dto.TrialStatus{}, ErrTrialNotFound
	}
	if err != nil {
		return dto.TrialStatus{}, fmt.Errorf("get trial: %w", err)
	}
	return s.view(t), nil
}

// view derives the status from the clock so it is correct before the
// sweeper has marked the row.
func (s *TrialService) view(t db.Trial) dto.TrialStatus {
	now := s.now().UTC()
	out := dto.TrialStatus{
		Fingerprint: t.Fingerprint,
		Status:      t.Status,
		StartedAt:   t.StartedAt.UTC(),
		ExpiresAt:   t.ExpiresAt.UTC(),
	}
	if t.Status == db.TrialStatusConverted {
		return out
	}
	if !now.Before(t.ExpiresAt) {
		out.Status = db.TrialStatusExpired
		return out
	}
	out.Status = db.TrialStatusActive
	out.Active = true
	out.DaysRemaining = daysUntil(now, t.ExpiresAt)
	return out
}

// daysUntil rounds partial days up so a trial with one hour left reports 1.
func daysUntil(now, end time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
