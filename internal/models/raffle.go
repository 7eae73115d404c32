package models

import "time"

// Participant represents a person entering the raffle.
// ID is assigned at ingestion and is stable for the same source file.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// DrawConfig holds the operator's choices for a single draw.
type DrawConfig struct {
	TotalWinners        int  `json:"totalWinners"`
	HighlightTopWinners bool `json:"highlightTopWinners"`
	TopWinnersCount     int  `json:"topWinnersCount"`
}

// Winner is a participant placed at a rank in the draw order.
// The first TopWinnersCount positions are top winners.
type Winner struct {
	Participant
	Position    int  `json:"position"`
	IsTopWinner bool `json:"isTopWinner"`
}

// DrawRecord is a completed draw as kept in the history.
type DrawRecord struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	ParticipantCount int       `json:"participantCount"`
	Winners          []Winner  `json:"winners"`
	TotalWinners     int       `json:"totalWinners"`
}

