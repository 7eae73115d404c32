package services

import (
	"time"

	"raffle/internal/models"
)

// SpinSettings times the suspense animation shown before a top winner.
type SpinSettings struct {
	Duration      time.Duration
	BaseInterval  time.Duration
	RampInterval  time.Duration
	FlashCount    int
	FlashInterval time.Duration
	Hold          time.Duration
}

func DefaultSpinSettings() SpinSettings {
	return SpinSettings{
		Duration:      3 * time.Second,
		BaseInterval:  50 * time.Millisecond,
		RampInterval:  130 * time.Millisecond,
		FlashCount:    7,
		FlashInterval: 90 * time.Millisecond,
		Hold:          600 * time.Millisecond,
	}
}

// IntervalAt returns the delay before the next name change once elapsed time
// has passed. It grows quadratically from BaseInterval to BaseInterval+RampInterval.
func (s SpinSettings) IntervalAt(elapsed time.Duration) time.Duration {
	progress := 1.0
	if s.Duration > 0 {
		progress = min(float64(elapsed)/float64(s.Duration), 1)
	}
	return s.BaseInterval + time.Duration(float64(s.RampInterval)*progress*progress)
}

// FrameKind tells which part of the spin produced a displayed name.
type FrameKind string

const (
	FrameSpin   FrameKind = "spin"
	FrameFlash  FrameKind = "flash"
	FrameSettle FrameKind = "settle"
)

// spinSequence cycles random names, flashes a few more, then settles on the
// winner already chosen by the draw. It never picks the winner itself.
type spinSequence struct {
	settings     SpinSettings
	participants []models.Participant
	final        models.Participant
	src          RandomSource

	after func(time.Duration, func())
	show  func(FrameKind, models.Participant)
	done  func()

	elapsed time.Duration
	last    int
	flashes int
}

func (s *spinSequence) start() {
	s.last = -1
	s.elapsed = 0
	s.flashes = 0
	s.spin()
}

func (s *spinSequence) spin() {
	interval := s.settings.IntervalAt(s.elapsed)
	s.show(FrameSpin, s.participants[s.next()])
	s.elapsed += interval

	if s.elapsed < s.settings.Duration {
		s.after(interval, s.spin)
		return
	}
	// The flashes start in the same tick the spin ends.
	s.flash()
}

func (s *spinSequence) flash() {
	if s.flashes < s.settings.FlashCount {
		s.show(FrameFlash, s.participants[s.next()])
		s.flashes++
		s.after(s.settings.FlashInterval, s.flash)
		return
	}

	s.show(FrameSettle, s.final)
	s.after(s.settings.Hold, s.done)
}

// next picks a random index, different from the previous one when possible.
func (s *spinSequence) next() int {
	n := len(s.participants)
	if n == 1 {
		s.last = 0
		return 0
	}

	idx := s.src.Intn(n)
	for idx == s.last {
		idx = s.src.Intn(n)
	}
	s.last = idx
	return idx
}
