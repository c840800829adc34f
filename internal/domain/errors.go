package domain

import "errors"

var (
	// ErrExamNotFound indicates the exam content could not be loaded.
	ErrExamNotFound = errors.New("exam not found")
	// ErrArenaNotFound is returned when no live arena exists for the key.
	ErrArenaNotFound = errors.New("arena session not found")
	// ErrNotInLobby is returned when startGame is dispatched outside Lobby.
	ErrNotInLobby = errors.New("game not in lobby")
	// ErrNotPlaying is returned when an answer arrives outside Playing.
	ErrNotPlaying = errors.New("game not in playing state")
	// ErrNotFinished is returned when a retry is dispatched before Finished.
	ErrNotFinished = errors.New("game not finished")
	// ErrNoExplanation is returned when continue arrives with nothing pending.
	ErrNoExplanation = errors.New("no explanation pending")
)
