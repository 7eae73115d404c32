package services

import (
	"math/rand"

	"raffle/internal/models"
)

// RandomSource yields uniform integers in [0, n).
type RandomSource interface {
	Intn(n int) int
}

type globalSource struct{}

func (globalSource) Intn(n int) int { return rand.Intn(n) }

// DefaultSource uses the math/rand top-level generator, which is safe for
// concurrent use.
var DefaultSource RandomSource = globalSource{}

// Shuffle returns a uniformly random permutation of participants.
// The input slice is left untouched.
func Shuffle(src RandomSource, participants []models.Participant) []models.Participant {
	shuffled := make([]models.Participant, len(participants))
	copy(shuffled, participants)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := src.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}

// SelectWinners draws min(cfg.TotalWinners, len(participants)) winners.
func SelectWinners(participants []models.Participant, cfg models.DrawConfig) []models.Winner {
	return SelectWinnersWith(DefaultSource, participants, cfg)
}

// SelectWinnersWith is SelectWinners with an explicit random source.
// Positions are 1-based in draw order and the first cfg.TopWinnersCount are top winners.
func SelectWinnersWith(src RandomSource, participants []models.Participant, cfg models.DrawConfig) []models.Winner {
	if len(participants) == 0 {
		return []models.Winner{}
	}

	shuffled := Shuffle(src, participants)
	n := min(max(cfg.TotalWinners, 0), len(shuffled))

	winners := make([]models.Winner, 0, n)
	for i := 0; i < n; i++ {
		winners = append(winners, models.Winner{
			Participant: shuffled[i],
			Position:    i + 1,
			IsTopWinner: i < cfg.TopWinnersCount,
		})
	}
	return winners
}
