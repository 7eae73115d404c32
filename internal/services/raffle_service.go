package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"

	"raffle/internal/models"
	"raffle/internal/schedule"
)

// ErrInvalidTransition is returned when an operation is not allowed in the current step.
var ErrInvalidTransition = errors.New("operation not allowed in the current step")

// Step is a screen of the raffle flow.
type Step string

const (
	StepUpload    Step = "upload"
	StepPreview   Step = "preview"
	StepConfigure Step = "configure"
	StepReveal    Step = "reveal"
	StepResults   Step = "results"
	StepHistory   Step = "history"
)

// RevealPhase is the sub-state of StepReveal.
type RevealPhase string

const (
	PhaseSpinning RevealPhase = "spinning"
	PhaseRevealed RevealPhase = "revealed"
)

// DrawLimits bounds what the operator may configure.
type DrawLimits struct {
	Defaults        models.DrawConfig
	MaxTotalWinners int
	MaxTopWinners   int
}

func DefaultDrawLimits() DrawLimits {
	return DrawLimits{
		Defaults: models.DrawConfig{
			TotalWinners:        75,
			HighlightTopWinners: true,
			TopWinnersCount:     3,
		},
		MaxTotalWinners: 75,
		MaxTopWinners:   3,
	}
}

// Clamp fits cfg to the limits for a pool of participantCount people.
func (l DrawLimits) Clamp(cfg models.DrawConfig, participantCount int) models.DrawConfig {
	maxTotal := max(min(l.MaxTotalWinners, participantCount), 1)
	cfg.TotalWinners = min(max(cfg.TotalWinners, 1), maxTotal)

	maxTop := max(min(l.MaxTopWinners, cfg.TotalWinners), 0)
	cfg.TopWinnersCount = min(max(cfg.TopWinnersCount, 0), maxTop)
	return cfg
}

// Event is pushed to subscribers as the raffle moves.
type Event struct {
	Type        string              `json:"type"` // step, frame, revealed, notice
	Step        Step                `json:"step"`
	Frame       FrameKind           `json:"frame,omitempty"`
	Participant *models.Participant `json:"participant,omitempty"`
	Winner      *models.Winner      `json:"winner,omitempty"`
	TopIndex    int                 `json:"topIndex"`
	Notice      string              `json:"notice,omitempty"`
}

// State is a snapshot of the raffle for rendering.
type State struct {
	Step            Step                 `json:"step"`
	Phase           RevealPhase          `json:"phase,omitempty"`
	Notice          string               `json:"notice,omitempty"`
	Participants    []models.Participant `json:"participants"`
	Config          models.DrawConfig    `json:"config"`
	MaxTotalWinners int                  `json:"maxTotalWinners"`
	MaxTopWinners   int                  `json:"maxTopWinners"`
	TopIndex        int                  `json:"topIndex"`
	TopCount        int                  `json:"topCount"`
	Display         *models.Participant  `json:"display,omitempty"`
	Current         *models.Winner       `json:"current,omitempty"`
	Winners         []models.Winner      `json:"winners,omitempty"`
	LastDrawID      string               `json:"lastDrawId,omitempty"`
	History         []models.DrawRecord  `json:"history,omitempty"`
}

// Options configures a RaffleService. Zero fields take defaults.
type Options struct {
	Scheduler schedule.Scheduler
	Source    RandomSource
	Limits    DrawLimits
	Spin      SpinSettings
	Clock     func() time.Time
}

type spinRun struct {
	seq   *spinSequence
	group *schedule.Group
}

// RaffleService walks one operator through upload, configuration, the draw,
// the top-winner reveals, results and history.
type RaffleService struct {
	mu sync.Mutex

	history History
	sched   schedule.Scheduler
	src     RandomSource
	limits  DrawLimits
	spinCfg SpinSettings
	now     func() time.Time

	step         Step
	phase        RevealPhase
	notice       string
	participants []models.Participant
	config       models.DrawConfig
	winners      []models.Winner
	topIndex     int
	topCount     int
	display      *models.Participant
	spin         *spinRun
	lastDraw     *models.DrawRecord
	historyView  []models.DrawRecord

	subscribers map[chan Event]struct{}
}

// NewRaffleService creates a service in the upload step.
func NewRaffleService(history History, opts Options) *RaffleService {
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.New()
	}
	if opts.Source == nil {
		opts.Source = DefaultSource
	}
	if opts.Limits.MaxTotalWinners == 0 {
		opts.Limits = DefaultDrawLimits()
	}
	if opts.Spin.Duration == 0 {
		opts.Spin = DefaultSpinSettings()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &RaffleService{
		history:     history,
		sched:       opts.Scheduler,
		src:         opts.Source,
		limits:      opts.Limits,
		spinCfg:     opts.Spin,
		now:         opts.Clock,
		step:        StepUpload,
		config:      opts.Limits.Defaults,
		subscribers: make(map[chan Event]struct{}),
	}
}

func (s *RaffleService) invalid(op string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, s.step)
}

func (s *RaffleService) setStep(step Step) {
	s.step = step
	s.publish(Event{Type: "step", Step: step, TopIndex: s.topIndex})
}

// Upload parses the participant file. On failure the error is kept as a
// notice and the service stays in the upload step.
func (s *RaffleService) Upload(filename string, r io.Reader) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepUpload {
		return nil, s.invalid("upload")
	}

	participants, err := ParseParticipants(filename, r)
	if err != nil {
		logger.Warningf("Rejected participant file %q: %v", filename, err)
		s.notice = err.Error()
		s.publish(Event{Type: "notice", Step: s.step, Notice: s.notice})
		return nil, err
	}

	logger.Infof("Loaded %d participants from %q", len(participants), filename)
	s.participants = participants
	s.notice = ""
	s.config = s.limits.Clamp(s.limits.Defaults, len(participants))
	s.setStep(StepPreview)
	return participants, nil
}

// BackToUpload discards the loaded participants.
func (s *RaffleService) BackToUpload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepPreview {
		return s.invalid("back to upload")
	}
	s.participants = nil
	s.setStep(StepUpload)
	return nil
}

// ConfirmPreview moves on to the configuration step.
func (s *RaffleService) ConfirmPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepPreview {
		return s.invalid("confirm preview")
	}
	s.setStep(StepConfigure)
	return nil
}

// BackToPreview returns from configuration to the participant preview.
func (s *RaffleService) BackToPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepConfigure {
		return s.invalid("back to preview")
	}
	s.setStep(StepPreview)
	return nil
}

// UpdateConfig stores cfg after clamping it to the limits and the pool size.
func (s *RaffleService) UpdateConfig(cfg models.DrawConfig) (models.DrawConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepConfigure {
		return s.config, s.invalid("update config")
	}
	s.config = s.limits.Clamp(cfg, len(s.participants))
	return s.config, nil
}

// StartDraw runs the draw once. With highlighted top winners it enters the
// reveal step and starts the first spin, otherwise it goes straight to results.
func (s *RaffleService) StartDraw(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepConfigure {
		return s.invalid("start draw")
	}

	s.winners = SelectWinnersWith(s.src, s.participants, s.config)
	s.topIndex = 0
	s.topCount = 0
	for _, w := range s.winners {
		if w.IsTopWinner {
			s.topCount++
		}
	}
	logger.Infof("Drew %d winners from %d participants", len(s.winners), len(s.participants))

	if s.config.HighlightTopWinners && s.topCount > 0 {
		s.setStep(StepReveal)
		s.startSpin()
		return nil
	}

	s.finishDraw(ctx)
	return nil
}

// startSpin begins the spin for winners[topIndex]. Caller holds s.mu.
func (s *RaffleService) startSpin() {
	s.cancelSpin()

	run := &spinRun{group: schedule.NewGroup(s.sched)}
	run.seq = &spinSequence{
		settings:     s.spinCfg,
		participants: s.participants,
		final:        s.winners[s.topIndex].Participant,
		src:          s.src,
		after: func(d time.Duration, fn func()) {
			run.group.After(d, func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				// A newer spin or a reset superseded this one.
				if s.spin != run {
					return
				}
				fn()
			})
		},
		show: func(kind FrameKind, p models.Participant) {
			s.display = &p
			s.publish(Event{Type: "frame", Step: s.step, Frame: kind, Participant: &p, TopIndex: s.topIndex})
		},
		done: func() {
			s.spin = nil
			s.phase = PhaseRevealed
			w := s.winners[s.topIndex]
			s.publish(Event{Type: "revealed", Step: s.step, Winner: &w, TopIndex: s.topIndex})
		},
	}

	s.spin = run
	s.phase = PhaseSpinning
	s.display = nil
	run.seq.start()
}

// cancelSpin tears down the pending spin callbacks. Caller holds s.mu.
func (s *RaffleService) cancelSpin() {
	if s.spin == nil {
		return
	}
	s.spin.group.Cancel()
	s.spin = nil
}

// Advance leaves the current revealed top winner: on to the next spin, or
// to the results once every top winner has been shown.
func (s *RaffleService) Advance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepReveal || s.phase != PhaseRevealed {
		return s.invalid("advance")
	}

	if s.topIndex+1 < s.topCount {
		s.topIndex++
		s.publish(Event{Type: "step", Step: s.step, TopIndex: s.topIndex})
		s.startSpin()
		return nil
	}

	s.finishDraw(ctx)
	return nil
}

// finishDraw records the draw and shows the results. Caller holds s.mu.
func (s *RaffleService) finishDraw(ctx context.Context) {
	record := models.DrawRecord{
		ID:               uuid.NewString(),
		Timestamp:        s.now().UTC(),
		ParticipantCount: len(s.participants),
		Winners:          s.winners,
		TotalWinners:     s.config.TotalWinners,
	}
	s.historyView = s.history.Append(ctx, record)
	s.lastDraw = &record
	s.phase = ""
	s.display = nil
	logger.Infof("Recorded draw %s", record.ID)
	s.setStep(StepResults)
}

// ViewHistory reloads the history and shows it.
func (s *RaffleService) ViewHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepResults && s.step != StepHistory {
		return s.invalid("view history")
	}
	s.historyView = s.history.Load(ctx)
	s.setStep(StepHistory)
	return nil
}

// BackFromHistory returns to the results of the current draw.
func (s *RaffleService) BackFromHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepHistory {
		return s.invalid("back from history")
	}
	s.setStep(StepResults)
	return nil
}

// ClearHistory wipes every stored draw. It cannot be undone.
func (s *RaffleService) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepHistory && s.step != StepResults {
		return s.invalid("clear history")
	}
	s.history.Clear(ctx)
	s.historyView = []models.DrawRecord{}
	s.publish(Event{Type: "step", Step: s.step})
	return nil
}

// NewDraw forgets the participants, winners and configuration and returns to
// upload. Pending spin callbacks are canceled; the stored history is kept.
func (s *RaffleService) NewDraw() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelSpin()
	s.participants = nil
	s.winners = nil
	s.config = s.limits.Defaults
	s.topIndex = 0
	s.topCount = 0
	s.phase = ""
	s.display = nil
	s.lastDraw = nil
	s.historyView = nil
	s.setStep(StepUpload)
}

// DismissNotice clears the error notice. Subscribers get a notice event with
// an empty text.
func (s *RaffleService) DismissNotice() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.notice == "" {
		return
	}
	s.notice = ""
	s.publish(Event{Type: "notice", Step: s.step, TopIndex: s.topIndex})
}

// SetLimits replaces the configuration limits. The current configuration is
// re-clamped; the new defaults apply from the next draw.
func (s *RaffleService) SetLimits(limits DrawLimits) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.limits = limits
	if s.step == StepConfigure || s.step == StepPreview {
		s.config = limits.Clamp(s.config, len(s.participants))
	}
}

// LastDraw returns the draw shown in the results step.
func (s *RaffleService) LastDraw() (models.DrawRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastDraw == nil {
		return models.DrawRecord{}, false
	}
	return *s.lastDraw, true
}

// FindDraw looks a past draw up in the history.
func (s *RaffleService) FindDraw(ctx context.Context, id string) (models.DrawRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.history.Load(ctx) {
		if r.ID == id {
			return r, true
		}
	}
	return models.DrawRecord{}, false
}

// State returns a snapshot. Winners stay hidden until the results step, and
// during the reveal only the top winners already confirmed are exposed.
func (s *RaffleService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Step:            s.step,
		Phase:           s.phase,
		Notice:          s.notice,
		Participants:    s.participants,
		Config:          s.config,
		MaxTotalWinners: s.limits.MaxTotalWinners,
		MaxTopWinners:   s.limits.MaxTopWinners,
		TopIndex:        s.topIndex,
		TopCount:        s.topCount,
	}
	if st.Participants == nil {
		st.Participants = []models.Participant{}
	}
	if s.display != nil {
		p := *s.display
		st.Display = &p
	}

	switch s.step {
	case StepReveal:
		if s.phase == PhaseRevealed {
			w := s.winners[s.topIndex]
			st.Current = &w
		}
		revealed := s.topIndex
		if s.phase == PhaseRevealed {
			revealed++
		}
		st.Winners = append([]models.Winner(nil), s.winners[:revealed]...)
	case StepResults, StepHistory:
		st.Winners = append([]models.Winner(nil), s.winners...)
		if s.lastDraw != nil {
			st.LastDrawID = s.lastDraw.ID
		}
	}
	if s.step == StepHistory {
		st.History = append([]models.DrawRecord{}, s.historyView...)
	}
	return st
}

// Subscribe returns a channel of events and a function that ends the subscription.
// Slow subscribers miss events rather than block the raffle.
func (s *RaffleService) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
		})
	}
}

// publish fans ev out without blocking. Caller holds s.mu.
func (s *RaffleService) publish(ev Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close cancels pending timers and ends every subscription.
func (s *RaffleService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelSpin()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}
